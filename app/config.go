package app

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Checker is implemented by configs with constraints struct tags cannot express.
type Checker interface {
	Check() error
}

// Loader parses env vars with envconfig and enforces validator tags.
type Loader struct {
	validate *validator.Validate
}

func NewConfigLoader() *Loader {
	return &Loader{validate: validator.New()}
}

// Load fills spec from the environment and validates it. Nested structs are
// validated too. A failure here should stop the process.
func (l *Loader) Load(ctx context.Context, spec any, prefix string) error {
	if err := envconfig.Process(prefix, spec); err != nil {
		return fmt.Errorf("config: failed to process env vars: %w", err)
	}
	if err := l.validate.StructCtx(ctx, spec); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	if c, ok := spec.(Checker); ok {
		if err := c.Check(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}
