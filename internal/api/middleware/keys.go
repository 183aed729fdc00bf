package middleware

import (
	"context"

	"github.com/kiranshivaraju/opsloop/pkg/models"
)

// KeyStore looks up API keys by their lookup prefix.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]models.APIKey, error)
	Len() int
}

// StaticKeys is a KeyStore over a fixed, configured key list.
type StaticKeys struct {
	byPrefix map[string][]models.APIKey
	n        int
}

// NewStaticKeys indexes keys by prefix. Prefixes longer than the lookup
// length are truncated to it.
func NewStaticKeys(keys []models.APIKey) *StaticKeys {
	s := &StaticKeys{byPrefix: make(map[string][]models.APIKey, len(keys))}
	for _, k := range keys {
		prefix := k.KeyPrefix
		if len(prefix) > keyPrefixLen {
			prefix = prefix[:keyPrefixLen]
		}
		s.byPrefix[prefix] = append(s.byPrefix[prefix], k)
		s.n++
	}
	return s
}

func (s *StaticKeys) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]models.APIKey, error) {
	return s.byPrefix[prefix], nil
}

func (s *StaticKeys) Len() int { return s.n }

var _ KeyStore = (*StaticKeys)(nil)
