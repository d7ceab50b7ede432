package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/repostore/internal/cipher"
	"github.com/roach88/repostore/internal/config"
	"github.com/roach88/repostore/internal/content"
	"github.com/roach88/repostore/internal/datastore"
	"github.com/roach88/repostore/internal/logger"
	"github.com/roach88/repostore/internal/security"
)

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger builds the command logger from REPOSTORE_LOG_* settings. --verbose
// raises the level to debug.
func (o *RootOptions) logger(cmd *cobra.Command) (zerolog.Logger, error) {
	settings, err := config.LoadLogging()
	if err != nil {
		return logger.Nop(), err
	}
	if o.Verbose {
		settings.Level = "debug"
	} else if settings.Level == "" {
		settings.Level = "warn"
	}
	return logger.NewWithWriter(settings, cmd.ErrOrStderr())
}

func loadCipher() (*cipher.Service, error) {
	c, err := config.LoadCipher()
	if err != nil {
		return nil, err
	}
	return cipher.New(c.Settings())
}

// openStore starts the data store named by --store. The caller stops it.
func (o *RootOptions) openStore(ctx context.Context, log zerolog.Logger) (*datastore.DataStore, error) {
	svc, err := loadCipher()
	if err != nil {
		return nil, fmt.Errorf("failed to load cipher: %w", err)
	}

	handlers := append(security.Handlers(), content.Handlers()...)
	store := datastore.New(o.Store,
		datastore.WithLogger(log),
		datastore.WithCipher(svc),
		datastore.WithHandlers(handlers...),
	)

	attrs := map[string]string{}
	if o.URL != "" {
		attrs["jdbcUrl"] = o.URL
	}
	if o.Verbose {
		attrs["traceStatements"] = "true"
	}
	if err := store.Start(ctx, attrs); err != nil {
		return nil, err
	}
	return store, nil
}

// registerAll registers the security and content access types, with one
// content repository access type per format.
func registerAll(ctx context.Context, store *datastore.DataStore, formats []string) error {
	types := []datastore.AccessType{security.RoleMappings, security.Secrets, content.Configurations}
	for _, format := range formats {
		t, err := content.RepositoryDAO(format)
		if err != nil {
			return err
		}
		types = append(types, t)
	}
	for _, t := range types {
		if err := store.Register(ctx, t); err != nil {
			return fmt.Errorf("failed to register %s: %w", t.Name(), err)
		}
	}
	return nil
}
