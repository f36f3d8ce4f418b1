package menu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	require.Equal(t, "nao", Normalize("  NÃO. "))
	require.Equal(t, "voltar", Normalize("*Voltar*"))
	require.Equal(t, "sim", Normalize("Sim!"))
	require.Equal(t, "diario de classe", Normalize("Diário de Classe"))
}

func TestYesNoBack(t *testing.T) {
	require.True(t, IsYes("SIM"))
	require.True(t, IsYes("yes"))
	require.True(t, IsNo("não"))
	require.True(t, IsNo("nao"))
	require.True(t, IsNo("No"))
	require.False(t, IsNo("nunca"))
	require.True(t, IsBack("Voltar"))
	require.True(t, IsBack("menu"))
}

func TestIsControlToken(t *testing.T) {
	for _, tok := range []string{"1", "6", "voltar", "back", "sim", "não", "no", "menu"} {
		require.True(t, IsControlToken(tok), tok)
	}
	for _, tok := range []string{"7", "12", "olá", "meu problema"} {
		require.False(t, IsControlToken(tok), tok)
	}
}

func TestParseRegistration(t *testing.T) {
	text := "Nome: Maria Souza\nCidade: Caruaru\ncargo: Coordenadora\nEscola:  EM José de Alencar "
	require.True(t, IsRegistration(text))

	p, missing := ParseRegistration("5581@s.whatsapp.net", text)
	require.Empty(t, missing)
	require.Equal(t, "5581@s.whatsapp.net", p.ConversationID)
	require.Equal(t, "Maria Souza", p.Name)
	require.Equal(t, "Caruaru", p.City)
	require.Equal(t, "Coordenadora", p.Position)
	require.Equal(t, "EM José de Alencar", p.School)
}

func TestParseRegistrationMissingFields(t *testing.T) {
	_, missing := ParseRegistration("x", "Nome: João\nCidade:\nEscola: EE Centro")
	require.Equal(t, []string{"Cidade", "Cargo"}, missing)

	require.False(t, IsRegistration("olá, preciso de ajuda"))
	require.True(t, IsRegistration("name: John"))
}

func TestCatalogResolve(t *testing.T) {
	c := NewCatalog(DefaultCategories, "https://videos.example/", "contato")

	desc, url, ok := c.Resolve(2, 1)
	require.True(t, ok)
	require.Equal(t, "Cadastro - Cadastrar aluno", desc)
	require.Equal(t, "https://videos.example/cadastro/aluno", url)

	_, _, ok = c.Resolve(2, 4)
	require.False(t, ok)
	_, _, ok = c.Resolve(9, 1)
	require.False(t, ok)
}

func TestCatalogTexts(t *testing.T) {
	c := NewCatalog(DefaultCategories, "https://videos.example", "Secretaria (81) 3333-0000")

	top := c.TopMenu()
	require.Contains(t, top, "1 - Acesso à plataforma")
	require.Contains(t, top, "5 - Falar com a secretaria")
	require.Contains(t, top, "6 - Outro problema")

	sub := c.SubMenu(2)
	require.Contains(t, sub, "*Cadastro*")
	require.Contains(t, sub, "1 - Cadastrar aluno")

	require.Contains(t, c.Escalation(), "(81) 3333-0000")
	require.Contains(t, c.QueuePosition(4), "*4*")
}
