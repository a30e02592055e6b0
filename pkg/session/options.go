package session

import (
	"github.com/nimburion/txcoord/pkg/config"
	"github.com/nimburion/txcoord/pkg/connection"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/transaction"
)

// OptionsFromConfig builds session options from configuration. platform is required only
// for the external transaction backend.
func OptionsFromConfig(cfg *config.Config, provider connection.Provider, platform transaction.Platform, log logger.Logger) (Options, error) {
	acquisition, err := connection.ParseAcquisitionMode(cfg.Connection.AcquisitionMode)
	if err != nil {
		return Options{}, err
	}
	release, err := connection.ParseReleaseMode(cfg.Connection.ReleaseMode)
	if err != nil {
		return Options{}, err
	}
	builder, err := transaction.NewBuilder(cfg.Transaction, platform)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Provider:        provider,
		AcquisitionMode: acquisition,
		ReleaseMode:     release,
		Builder:         builder,
		Logger:          log,
	}, nil
}
