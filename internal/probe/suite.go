package probe

import (
	"context"

	"github.com/talosaether/n8n/internal/appenv"
	"github.com/talosaether/n8n/internal/runtime"
)

// Suite verifies a unit described by an application config. The probe set
// and target are rebuilt per call because backing-service probes depend on
// the settings being verified.
type Suite struct {
	Driver   runtime.Driver
	Options  Options
	BaseURL  string
	Verifier Verifier
}

func (s Suite) Verify(ctx context.Context, cfg appenv.Config) (Report, error) {
	v := s.Verifier
	v.Set = NewSet(s.Driver, cfg.Values, s.Options)
	return v.Verify(ctx, TargetFor(cfg, s.BaseURL))
}
