package menu

import (
	"strings"

	"atendimento/internal/models"
)

var fieldAliases = map[string]string{
	"nome":     "name",
	"name":     "name",
	"cidade":   "city",
	"city":     "city",
	"cargo":    "position",
	"funcao":   "position",
	"position": "position",
	"escola":   "school",
	"school":   "school",
}

// fieldLabels is the order and wording used when reporting missing fields.
var fieldLabels = []struct{ key, label string }{
	{"name", "Nome"},
	{"city", "Cidade"},
	{"position", "Cargo"},
	{"school", "Escola"},
}

// IsRegistration reports whether text starts a registration message.
func IsRegistration(text string) bool {
	t := Normalize(text)
	return strings.HasPrefix(t, "nome:") || strings.HasPrefix(t, "name:")
}

// ParseRegistration reads "Campo: valor" lines. It returns the labels of the
// required fields that are missing or blank.
func ParseRegistration(conversationID, text string) (models.Profile, []string) {
	values := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		field, known := fieldAliases[Normalize(key)]
		if !known {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			values[field] = v
		}
	}

	var missing []string
	for _, f := range fieldLabels {
		if values[f.key] == "" {
			missing = append(missing, f.label)
		}
	}
	return models.Profile{
		ConversationID: conversationID,
		Name:           values["name"],
		City:           values["city"],
		Position:       values["position"],
		School:         values["school"],
	}, missing
}
