package driven

import "github.com/custodia-labs/sercha-federation/internal/core/domain"

// ConfigProvider hands out the current configuration snapshot.
// A reload swaps the snapshot atomically; callers never see a mix.
type ConfigProvider interface {
	Current() *domain.Config
}
