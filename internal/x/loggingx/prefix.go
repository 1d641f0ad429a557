package loggingx

import (
	"fmt"

	"github.com/dogmatiq/dodeca/logging"
)

// WithPrefix returns a logger that adds a prefix to log messages.
//
// If target is nil, logging.DefaultLogger is used.
func WithPrefix(target logging.Logger, f string, v ...any) logging.Logger {
	if target == nil {
		target = logging.DefaultLogger
	}

	return &prefixer{
		target: target,
		prefix: fmt.Sprintf(f, v...),
	}
}

type prefixer struct {
	target logging.Logger
	prefix string
}

func (p *prefixer) Log(f string, v ...any) {
	p.target.LogString(p.prefix + fmt.Sprintf(f, v...))
}

func (p *prefixer) LogString(s string) {
	p.target.LogString(p.prefix + s)
}

func (p *prefixer) Debug(f string, v ...any) {
	if p.target.IsDebug() {
		p.target.DebugString(p.prefix + fmt.Sprintf(f, v...))
	}
}

func (p *prefixer) DebugString(s string) {
	p.target.DebugString(p.prefix + s)
}

func (p *prefixer) IsDebug() bool {
	return p.target.IsDebug()
}
