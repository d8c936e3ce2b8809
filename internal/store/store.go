// Package store keeps the on-device driver, vehicle and report collections.
// Every write is applied to memory and storage first, then sent to the server;
// a full list read from the server replaces local state wholesale.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"fleet-sync/internal/hooks"
	"fleet-sync/internal/models"
	"fleet-sync/internal/operations"
	"fleet-sync/pkg/graphql"
	"fleet-sync/pkg/kv"

	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
)

var ErrNotFound = errors.New("record not found")

// errReset marks a commit dropped because the store was reset after the
// operation started.
var errReset = errors.New("store reset during operation")

// Snapshot keys in the durable store.
const (
	KeyDrivers  = "store.chauffeurs"
	KeyVehicles = "store.vehicules"
	KeyReports  = "store.rapports"
)

// Remote is the part of *graphql.Client the store calls.
type Remote interface {
	hooks.Client
	Upload(ctx context.Context, op string, vars graphql.Variables, fileVar string, file graphql.File) (json.RawMessage, error)
}

type Store struct {
	remote  Remote
	storage kv.Store
	clock   clockwork.Clock

	drivers  *collection[models.Driver]
	vehicles *collection[models.Vehicle]
	reports  *collection[models.Report]
	access   *hooks.Mutation[models.Driver]

	// epoch advances on every Reset; work started before a reset never commits.
	epoch   atomic.Uint64
	loading atomic.Int32

	listenersMu sync.RWMutex
	listeners   map[int]func(entity string)
	nextID      int
}

type Option func(*Store)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

func New(remote Remote, storage kv.Store, opts ...Option) *Store {
	s := &Store{
		remote:    remote,
		storage:   storage,
		clock:     clockwork.NewRealClock(),
		listeners: make(map[int]func(string)),
		drivers: &collection[models.Driver]{
			name:   operations.FieldChauffeurs,
			entity: operations.EntityDriver,
			key:    KeyDrivers,
			ops: operationSet{
				list:        operations.ListDrivers,
				create:      operations.CreateDriver,
				update:      operations.UpdateDriver,
				delete:      operations.DeleteDriver,
				createField: operations.FieldCreerChauffeur,
				updateField: operations.FieldModifierChauffeur,
				deleteField: operations.FieldSupprimerChauffeur,
			},
			idOf:  func(d models.Driver) string { return d.ID },
			setID: func(d *models.Driver, id string) { d.ID = id },
		},
		vehicles: &collection[models.Vehicle]{
			name:   operations.FieldVehicules,
			entity: operations.EntityVehicle,
			key:    KeyVehicles,
			ops: operationSet{
				list:        operations.ListVehicles,
				create:      operations.CreateVehicle,
				update:      operations.UpdateVehicle,
				delete:      operations.DeleteVehicle,
				createField: operations.FieldCreerVehicule,
				updateField: operations.FieldModifierVehicule,
				deleteField: operations.FieldSupprimerVehicule,
			},
			idOf:  func(v models.Vehicle) string { return v.ID },
			setID: func(v *models.Vehicle, id string) { v.ID = id },
		},
		reports: &collection[models.Report]{
			name:   operations.FieldRapports,
			entity: operations.EntityReport,
			key:    KeyReports,
			ops: operationSet{
				list:        operations.ListReports,
				create:      operations.CreateReport,
				update:      operations.UpdateReport,
				delete:      operations.DeleteReport,
				createField: operations.FieldCreerRapport,
				updateField: operations.FieldModifierRapport,
				deleteField: operations.FieldSupprimerRapport,
			},
			idOf:  func(r models.Report) string { return r.ID },
			setID: func(r *models.Report, id string) { r.ID = id },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.drivers.bind(remote)
	s.vehicles.bind(remote)
	s.reports.bind(remote)
	s.access = hooks.NewMutation(remote, operations.SetDriverAccess,
		hooks.FieldDecoder[models.Driver](operations.FieldModifierAccesChauffeur),
		hooks.MutationOptions[models.Driver]{InvalidatePatterns: []string{operations.FieldChauffeurs}})
	return s
}

// Keys lists every storage key the store owns.
func Keys() []string {
	return []string{KeyDrivers, KeyVehicles, KeyReports}
}

func (s *Store) Drivers() []models.Driver {
	return s.drivers.list()
}

func (s *Store) Vehicles() []models.Vehicle {
	return s.vehicles.list()
}

func (s *Store) Reports() []models.Report {
	return s.reports.list()
}

func (s *Store) Driver(id string) (models.Driver, bool) {
	return s.drivers.find(id)
}

func (s *Store) Vehicle(id string) (models.Vehicle, bool) {
	return s.vehicles.find(id)
}

func (s *Store) Report(id string) (models.Report, bool) {
	return s.reports.find(id)
}

// Loading reports whether a refresh is in flight.
func (s *Store) Loading() bool {
	return s.loading.Load() > 0
}

// Subscribe registers fn to run after every change of a collection, with the
// entity name of that collection. The returned func removes the listener.
func (s *Store) Subscribe(fn func(entity string)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify(entity string) {
	s.listenersMu.RLock()
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(entity)
	}
}

// Load hydrates memory from the stored snapshots.
func (s *Store) Load(ctx context.Context) error {
	if err := s.drivers.load(ctx, s.storage); err != nil {
		return fmt.Errorf("failed to load drivers: %w", err)
	}
	if err := s.vehicles.load(ctx, s.storage); err != nil {
		return fmt.Errorf("failed to load vehicles: %w", err)
	}
	if err := s.reports.load(ctx, s.storage); err != nil {
		return fmt.Errorf("failed to load reports: %w", err)
	}
	glog.Infof("store: loaded %d drivers, %d vehicles, %d reports from storage",
		len(s.Drivers()), len(s.Vehicles()), len(s.Reports()))
	for _, entity := range []string{operations.EntityDriver, operations.EntityVehicle, operations.EntityReport} {
		s.notify(entity)
	}
	return nil
}

// Reset empties every collection in memory and in storage. Refreshes and
// creates still in flight are discarded when they return.
func (s *Store) Reset(ctx context.Context) error {
	s.drivers.writeMu.Lock()
	s.vehicles.writeMu.Lock()
	s.reports.writeMu.Lock()
	s.epoch.Add(1)
	s.drivers.set(nil)
	s.vehicles.set(nil)
	s.reports.set(nil)
	err := s.storage.Remove(ctx, Keys()...)
	s.reports.writeMu.Unlock()
	s.vehicles.writeMu.Unlock()
	s.drivers.writeMu.Unlock()

	if err != nil {
		glog.Errorf("store: failed to remove snapshots: %v", err)
		return err
	}
	for _, entity := range []string{operations.EntityDriver, operations.EntityVehicle, operations.EntityReport} {
		s.notify(entity)
	}
	return nil
}

// Refresh reads the three collections from the server. Each one that
// succeeds replaces local state; failures are joined.
func (s *Store) Refresh(ctx context.Context) error {
	return errors.Join(
		s.RefreshDrivers(ctx),
		s.RefreshVehicles(ctx),
		s.RefreshReports(ctx),
	)
}

func (s *Store) RefreshDrivers(ctx context.Context) error {
	return refreshCollection(ctx, s, s.drivers, true)
}

func (s *Store) RefreshVehicles(ctx context.Context) error {
	return refreshCollection(ctx, s, s.vehicles, true)
}

func (s *Store) RefreshReports(ctx context.Context) error {
	return refreshCollection(ctx, s, s.reports, true)
}

// Sync is Refresh with a cache-first policy: a list result still cached
// within its TTL is applied without asking the server.
func (s *Store) Sync(ctx context.Context) error {
	return errors.Join(
		s.SyncEntity(ctx, operations.EntityDriver),
		s.SyncEntity(ctx, operations.EntityVehicle),
		s.SyncEntity(ctx, operations.EntityReport),
	)
}

// RefreshEntity refreshes the collection named by a change event entity.
func (s *Store) RefreshEntity(ctx context.Context, entity string) error {
	return s.fetch(ctx, entity, true)
}

// SyncEntity is RefreshEntity with the cache-first policy of Sync.
func (s *Store) SyncEntity(ctx context.Context, entity string) error {
	return s.fetch(ctx, entity, false)
}

func (s *Store) fetch(ctx context.Context, entity string, network bool) error {
	switch entity {
	case operations.EntityDriver:
		return refreshCollection(ctx, s, s.drivers, network)
	case operations.EntityVehicle:
		return refreshCollection(ctx, s, s.vehicles, network)
	case operations.EntityReport:
		return refreshCollection(ctx, s, s.reports, network)
	}
	return fmt.Errorf("unknown entity %q", entity)
}

func (s *Store) uploadImage(ctx context.Context, file graphql.File) (string, error) {
	data, err := s.remote.Upload(ctx, operations.UploadImage, nil, operations.UploadFileVariable, file)
	if err != nil {
		glog.Warningf("store: image upload failed: %v", err)
		return "", err
	}
	var ref string
	if err := json.Unmarshal(data, &ref); err != nil || ref == "" {
		return "", fmt.Errorf("%w: upload returned %s", graphql.ErrShapeMismatch, string(data))
	}
	return ref, nil
}
