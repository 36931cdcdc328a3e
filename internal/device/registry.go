package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Home creation defaults.
const (
	DefaultHomeName     = "Hogar"
	DefaultHomeTimezone = "UTC"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device lookups with an in-memory cache keyed by name.
// It wraps a Repository; cached values are deep copies in both directions.
//
// All public methods are thread-safe.
type Registry struct {
	repo         Repository
	provisioning Provisioning

	cache   map[string]*Device
	loaded  bool // cache holds every device, set by RefreshCache
	cacheMu sync.RWMutex

	logger Logger
}

// NewRegistry creates a registry that auto-provisions with p.
func NewRegistry(repo Repository, p Provisioning) *Registry {
	return &Registry{
		repo:         repo,
		provisioning: p,
		cache:        make(map[string]*Device),
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository.
// Call on startup so ListDevices can be served from memory.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].Name] = devices[i].DeepCopy()
	}
	r.loaded = true

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// EnsureDevice returns the named device, creating it and any missing home or
// gateway controller on first contact. Safe to call concurrently for the
// same name; all callers observe the same device.
func (r *Registry) EnsureDevice(ctx context.Context, name string) (*Device, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	if d := r.cached(name); d != nil {
		return d, nil
	}

	d, created, err := r.repo.Provision(ctx, r.provisioning.autoSpec(name), r.provisioning)
	if err != nil {
		return nil, fmt.Errorf("provisioning device %q: %w", name, err)
	}
	if created {
		r.logger.Info("device auto-registered", "device", name, "id", d.ID, "home_id", d.HomeID)
	}

	r.store(d)
	return d, nil
}

// RegisterDevice creates a device from an explicit spec. An empty type
// defaults to HYBRID and a missing state to OFF.
// Returns ErrDeviceExists if the name is already taken.
func (r *Registry) RegisterDevice(ctx context.Context, spec Spec) (*Device, error) {
	if spec.Type == "" {
		spec.Type = TypeHybrid
	}
	if spec.State == nil {
		spec.State = StateOff.Ptr()
	}
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}
	st, _ := ParseState(string(*spec.State)) //nolint:errcheck // Checked by ValidateSpec
	spec.State = st.Ptr()

	d, created, err := r.repo.Provision(ctx, spec, r.provisioning)
	if err != nil {
		return nil, fmt.Errorf("registering device %q: %w", spec.Name, err)
	}
	if !created {
		return nil, ErrDeviceExists
	}

	r.store(d)
	r.logger.Info("device registered", "device", d.Name, "id", d.ID, "type", d.Type)
	return d, nil
}

// GetDevice retrieves a device by name.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) GetDevice(ctx context.Context, name string) (*Device, error) {
	if d := r.cached(name); d != nil {
		return d, nil
	}

	d, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	r.store(d)
	return d, nil
}

// ListDevices returns all devices ordered by id.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if r.loaded {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.DeepCopy())
		}
		r.cacheMu.RUnlock()
		sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
		return devices, nil
	}
	r.cacheMu.RUnlock()

	return r.repo.List(ctx)
}

// ObserveState updates the cached state of a device after the change was
// committed elsewhere (the telemetry store writes state in its own
// transaction). Unknown names are ignored.
func (r *Registry) ObserveState(name string, state State) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if d, ok := r.cache[name]; ok {
		d.State = state.Ptr()
	}
}

// CreateHome stores a new home. The name is trimmed and falls back to
// DefaultHomeName when blank; a blank timezone becomes DefaultHomeTimezone.
// Blank descriptions and addresses are stored as null.
// Returns ErrInvalidHome if the name is too long or the timezone is unknown.
func (r *Registry) CreateHome(ctx context.Context, spec HomeSpec) (*Home, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		spec.Name = DefaultHomeName
	}
	spec.Timezone = strings.TrimSpace(spec.Timezone)
	if spec.Timezone == "" {
		spec.Timezone = DefaultHomeTimezone
	}
	spec.Description = trimmedOrNil(spec.Description)
	spec.Address = trimmedOrNil(spec.Address)

	if err := ValidateHomeSpec(spec); err != nil {
		return nil, err
	}

	h, err := r.repo.CreateHome(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("creating home %q: %w", spec.Name, err)
	}
	r.logger.Info("home created", "home", h.Name, "id", h.ID)
	return h, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// ListHomes returns all homes ordered by id.
func (r *Registry) ListHomes(ctx context.Context) ([]Home, error) {
	return r.repo.ListHomes(ctx)
}

// FirstHome returns the lowest-id home.
// Returns ErrHomeNotFound while no home exists.
func (r *Registry) FirstHome(ctx context.Context) (*Home, error) {
	homes, err := r.repo.ListHomes(ctx)
	if err != nil {
		return nil, err
	}
	if len(homes) == 0 {
		return nil, ErrHomeNotFound
	}
	return &homes[0], nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

func (r *Registry) cached(name string) *Device {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	if d, ok := r.cache[name]; ok {
		return d.DeepCopy()
	}
	return nil
}

func (r *Registry) store(d *Device) {
	r.cacheMu.Lock()
	r.cache[d.Name] = d.DeepCopy()
	r.cacheMu.Unlock()
}
