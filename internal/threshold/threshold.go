// Package threshold decides whether a classification is confident enough to
// become an alert. Thresholds are stored per alert type in the datastore and
// served through a read-through cache; lookups on the hot ingestion path
// almost never touch the database.
//
// A type without a configured threshold is denied: no threshold means no
// alert, never an implicit zero.
package threshold

import (
	"slices"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/datastore"
	"github.com/carsense/carsense-go/internal/errors"
)

const (
	cacheExpiration      = 5 * time.Minute
	cacheCleanupInterval = 10 * time.Minute
)

// unset marks a cached "no threshold configured" lookup so repeated
// classifications of an unconfigured type skip the database too.
const unset = -1.0

// Gate evaluates classification confidences against per-type thresholds.
type Gate struct {
	ds         datastore.Interface
	cache      *gocache.Cache
	knownTypes []string
}

// New builds a gate over the datastore. knownTypes comes from
// conf.Alerts.Types and bounds which alert types may be configured at all.
func New(ds datastore.Interface, settings *conf.Settings) *Gate {
	known := make([]string, 0, len(settings.Alerts.Types))
	for _, t := range settings.Alerts.Types {
		known = append(known, datastore.NormalizeAlertType(t))
	}
	return &Gate{
		ds:         ds,
		cache:      gocache.New(cacheExpiration, cacheCleanupInterval),
		knownTypes: known,
	}
}

// IsKnownType reports whether the alert type is registered in configuration.
func (g *Gate) IsKnownType(alertType string) bool {
	return slices.Contains(g.knownTypes, datastore.NormalizeAlertType(alertType))
}

// KnownTypes returns the registered alert types.
func (g *Gate) KnownTypes() []string {
	return slices.Clone(g.knownTypes)
}

// GetThreshold returns the configured minimum confidence for an alert type.
// The second return is false when no threshold is configured.
func (g *Gate) GetThreshold(alertType string) (float64, bool, error) {
	key := datastore.NormalizeAlertType(alertType)

	if cached, found := g.cache.Get(key); found {
		value := cached.(float64)
		if value == unset {
			return 0, false, nil
		}
		return value, true, nil
	}

	stored, err := g.ds.GetThreshold(key)
	if errors.Is(err, datastore.ErrThresholdNotFound) {
		g.cache.Set(key, unset, gocache.DefaultExpiration)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	g.cache.Set(key, stored.MinThreshold, gocache.DefaultExpiration)
	return stored.MinThreshold, true, nil
}

// IsAboveThreshold reports whether the confidence clears the configured
// threshold for the alert type. Clearing requires strictly greater than the
// threshold; a confidence exactly at the threshold does not qualify. Types
// without a configured threshold never qualify.
func (g *Gate) IsAboveThreshold(alertType string, confidence float64) (bool, error) {
	min, configured, err := g.GetThreshold(alertType)
	if err != nil {
		return false, err
	}
	if !configured {
		return false, nil
	}
	return confidence > min, nil
}

// SetThreshold creates or updates a threshold. The value must lie in [0, 1]
// and the type must be registered.
func (g *Gate) SetThreshold(alertType string, minThreshold float64) error {
	key := datastore.NormalizeAlertType(alertType)

	if minThreshold < 0 || minThreshold > 1 {
		return errors.Newf("threshold must be between 0 and 1, got %g", minThreshold).
			Component("threshold").
			Category(errors.CategoryValidation).
			Context("alert_type", key).
			Build()
	}
	if !g.IsKnownType(key) {
		return errors.Newf("unknown alert type: %s", key).
			Component("threshold").
			Category(errors.CategoryValidation).
			Context("alert_type", key).
			Build()
	}

	if err := g.ds.SetThreshold(&datastore.AlertThreshold{AlertType: key, MinThreshold: minThreshold}); err != nil {
		return err
	}
	g.cache.Delete(key)
	return nil
}

// DeleteThreshold removes a threshold. The type reverts to unconfigured and
// therefore denied.
func (g *Gate) DeleteThreshold(alertType string) error {
	key := datastore.NormalizeAlertType(alertType)
	if err := g.ds.DeleteThreshold(key); err != nil {
		return err
	}
	g.cache.Delete(key)
	return nil
}

// ListThresholds returns every configured threshold, bypassing the cache.
func (g *Gate) ListThresholds() ([]datastore.AlertThreshold, error) {
	return g.ds.ListThresholds()
}
