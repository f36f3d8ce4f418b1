// Package menu holds the scripted support menu and every text the bot sends.
package menu

import (
	"fmt"
	"strings"
)

// Top-level options with special behaviour.
const (
	OptionEscalation = 5
	OptionOther      = 6
)

// SubOption is one numbered answer under a category.
type SubOption struct {
	Title string
	Video string // path appended to the video base URL
}

// Category is one numbered entry of the top menu.
type Category struct {
	Number  int
	Title   string
	Options []SubOption
}

// Catalog renders menus and resolves choices against a fixed set of categories.
type Catalog struct {
	categories     []Category
	videoBaseURL   string
	supportContact string
}

// DefaultCategories are the problem categories offered under options 1 to 4.
var DefaultCategories = []Category{
	{Number: 1, Title: "Acesso à plataforma", Options: []SubOption{
		{Title: "Esqueci minha senha", Video: "acesso/esqueci-senha"},
		{Title: "Não consigo fazer login", Video: "acesso/login"},
		{Title: "Primeiro acesso", Video: "acesso/primeiro-acesso"},
	}},
	{Number: 2, Title: "Cadastro", Options: []SubOption{
		{Title: "Cadastrar aluno", Video: "cadastro/aluno"},
		{Title: "Cadastrar turma", Video: "cadastro/turma"},
		{Title: "Atualizar dados da escola", Video: "cadastro/escola"},
	}},
	{Number: 3, Title: "Diário de classe", Options: []SubOption{
		{Title: "Lançar frequência", Video: "diario/frequencia"},
		{Title: "Registrar conteúdo da aula", Video: "diario/conteudo"},
		{Title: "Fechar o diário", Video: "diario/fechamento"},
	}},
	{Number: 4, Title: "Notas e avaliações", Options: []SubOption{
		{Title: "Lançar notas", Video: "notas/lancamento"},
		{Title: "Corrigir nota lançada", Video: "notas/correcao"},
		{Title: "Emitir boletim", Video: "notas/boletim"},
	}},
}

func NewCatalog(categories []Category, videoBaseURL, supportContact string) *Catalog {
	return &Catalog{
		categories:     categories,
		videoBaseURL:   strings.TrimRight(videoBaseURL, "/"),
		supportContact: supportContact,
	}
}

// Category returns the category behind a top-menu number.
func (c *Catalog) Category(number int) (Category, bool) {
	for _, cat := range c.categories {
		if cat.Number == number {
			return cat, true
		}
	}
	return Category{}, false
}

// Resolve maps a sub-menu answer to the description stored on the Problem
// record and the help video link.
func (c *Catalog) Resolve(category, option int) (description, videoURL string, ok bool) {
	cat, found := c.Category(category)
	if !found || option < 1 || option > len(cat.Options) {
		return "", "", false
	}
	opt := cat.Options[option-1]
	return cat.Title + " - " + opt.Title, c.videoBaseURL + "/" + opt.Video, true
}

// TopMenu lists the categories plus escalation and free-text options.
func (c *Catalog) TopMenu() string {
	var b strings.Builder
	b.WriteString("Escolha o número da opção que melhor descreve o seu problema:\n\n")
	for _, cat := range c.categories {
		fmt.Fprintf(&b, "%d - %s\n", cat.Number, cat.Title)
	}
	fmt.Fprintf(&b, "%d - Falar com a secretaria\n", OptionEscalation)
	fmt.Fprintf(&b, "%d - Outro problema", OptionOther)
	return b.String()
}

// SubMenu lists the options of a category.
func (c *Catalog) SubMenu(category int) string {
	cat, _ := c.Category(category)
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", cat.Title)
	for i, opt := range cat.Options {
		fmt.Fprintf(&b, "%d - %s\n", i+1, opt.Title)
	}
	b.WriteString("\nDigite *voltar* para retornar ao menu anterior.")
	return b.String()
}

func (c *Catalog) RegistrationTemplate() string {
	return "Olá! Sou o assistente de suporte. Para iniciar o atendimento, copie a mensagem abaixo, " +
		"preencha com seus dados e envie:\n\n" +
		"Nome: \nCidade: \nCargo: \nEscola: "
}

func (c *Catalog) Escalation() string {
	return "Para falar diretamente com a secretaria utilize o contato abaixo:\n\n" + c.supportContact
}

func (c *Catalog) Welcome(name string) string {
	return fmt.Sprintf("Obrigado, %s! Seu cadastro foi registrado.", name)
}

func (c *Catalog) QueuePosition(position int) string {
	return fmt.Sprintf("No momento todos os nossos atendentes estão ocupados. "+
		"Você está na posição *%d* da fila e será avisado quando chegar a sua vez.", position)
}

func (c *Catalog) YourTurn(name string) string {
	return fmt.Sprintf("Olá, %s! Chegou a sua vez de ser atendido.", name)
}

func (c *Catalog) Video(videoURL string) string {
	return "Preparamos um vídeo que explica como resolver esse problema:\n" + videoURL
}

func (c *Catalog) VideoQuestion() string {
	return "O vídeo resolveu o seu problema? Responda *sim* ou *não*."
}

func (c *Catalog) DescribePrompt() string {
	return "Descreva o seu problema em uma única mensagem. Um atendente irá analisá-lo."
}

func (c *Catalog) DescriptionReceived() string {
	return "Recebemos a sua descrição. Um atendente vai continuar a conversa em breve."
}

func (c *Catalog) Closing() string {
	return "Que bom que conseguimos ajudar! Seu atendimento foi finalizado. Até a próxima!"
}

func (c *Catalog) Ended() string {
	return "Seu atendimento foi finalizado. Se precisar de ajuda novamente, é só mandar uma mensagem."
}

func (c *Catalog) Attending(attendant string) string {
	return fmt.Sprintf("O atendente %s assumiu o seu atendimento e responderá por aqui.", attendant)
}

func (c *Catalog) InvalidOption() string {
	return "Opção inválida. Digite apenas o número de uma das opções do menu."
}

func (c *Catalog) InvalidYesNo() string {
	return "Não entendi. Responda apenas *sim* ou *não*."
}

func (c *Catalog) IncompleteRegistration(missing []string) string {
	return "Não foi possível concluir o cadastro. Preencha os campos: " + strings.Join(missing, ", ") +
		".\n\n" + c.RegistrationTemplate()
}

func (c *Catalog) TryAgainLater() string {
	return "Tivemos um problema ao processar sua mensagem. Tente novamente mais tarde."
}
