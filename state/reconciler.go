package state

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Nathan219/probemaster2-sub000/pkg/timestamp"
	"github.com/Nathan219/probemaster2-sub000/telemetry"
)

// DefaultMaxReadings bounds the in-memory reading log.
const DefaultMaxReadings = 10000

// Deps holds runtime dependencies for the reconciler.
type Deps struct {
	Clock         timestamp.Clock // injected so tests run without wall-clock dependence
	Events        Events
	Logger        *slog.Logger
	ExpectedAreas int // area count at which discovery is considered complete
	MaxReadings   int
}

// Reconciler owns the entity graph and applies parsed facts to it. All merge
// operations are idempotent: applying the same fact twice leaves the graph in
// the same state as applying it once. Writers are expected to be a single
// goroutine; readers take consistent snapshots through the RWMutex.
type Reconciler struct {
	mu sync.RWMutex

	clock         timestamp.Clock
	events        Events
	logger        *slog.Logger
	expectedAreas int
	maxReadings   int

	areas     map[string]*Area
	probes    map[string]*Probe
	locations map[string]*Location
	pixels    map[string]PixelState
	freshness map[string]int64 // "<AREA>-<Metric>" -> Unix ms of last update
	readings  []telemetry.Reading

	discovering      bool
	areasLastFetched int64
}

// New creates a reconciler with the given dependencies.
func New(deps Deps) *Reconciler {
	clock := deps.Clock
	if clock == nil {
		clock = timestamp.SystemClock
	}
	events := deps.Events
	if events == nil {
		events = NopEvents{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "reconciler")
	}
	maxReadings := deps.MaxReadings
	if maxReadings <= 0 {
		maxReadings = DefaultMaxReadings
	}

	return &Reconciler{
		clock:         clock,
		events:        events,
		logger:        logger,
		expectedAreas: deps.ExpectedAreas,
		maxReadings:   maxReadings,
		areas:         make(map[string]*Area),
		probes:        make(map[string]*Probe),
		locations:     make(map[string]*Location),
		pixels:        make(map[string]PixelState),
		freshness:     make(map[string]int64),
	}
}

// SetEvents replaces the event sink. Intended for wiring sinks that need the
// reconciler to exist first; call before any merge is applied.
func (r *Reconciler) SetEvents(events Events) {
	if events == nil {
		events = NopEvents{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = events
}

// Apply dispatches one decoded announcement to its merge rule. Unknown
// announcements are ignored.
func (r *Reconciler) Apply(a telemetry.Announcement) {
	switch a.Kind {
	case telemetry.AnnouncementArea:
		r.ApplyArea(*a.Area)
	case telemetry.AnnouncementStat:
		r.ApplyStat(*a.Stat)
	case telemetry.AnnouncementThreshold:
		r.ApplyThreshold(*a.Threshold)
	case telemetry.AnnouncementBaseline:
		r.ApplyBaseline(*a.Baseline)
	case telemetry.AnnouncementPixels:
		r.ApplyPixels(*a.Pixels)
	}
}

// ApplyReading appends a reading to the log and creates the probe on first
// valid sighting. Readings with degraded or malformed probe ids still enter
// the log but never create probes.
func (r *Reconciler) ApplyReading(reading telemetry.Reading) {
	if !reading.Valid() {
		return
	}

	r.mu.Lock()
	r.readings = append(r.readings, reading)
	if len(r.readings) > r.maxReadings {
		r.readings = r.readings[len(r.readings)-r.maxReadings:]
	}

	id := telemetry.NormalizeProbeID(reading.ProbeID)
	if telemetry.ValidProbeID(id) {
		if _, exists := r.probes[id]; !exists {
			r.probes[id] = &Probe{ID: id}
		}
	} else {
		r.logger.Debug("reading with invalid probe id", "probe_id", reading.ProbeID)
	}
	r.mu.Unlock()

	r.events.ReadingApplied(reading)
}

// ApplyArea merges one area-topology announcement. The no-probes sentinel
// clears exactly that area's location map and leaves all other areas
// untouched. Entries with invalid probe ids are silently dropped, never
// stored partially.
func (r *Reconciler) ApplyArea(a telemetry.AreaAnnouncement) {
	name := canonicalArea(a.Area)
	if name == "" {
		return
	}

	r.mu.Lock()
	area := r.ensureAreaLocked(name)

	if a.NoProbes() {
		area.Locations = make(map[string]string)
	} else {
		probeID := telemetry.NormalizeProbeID(a.ProbeID)
		if !telemetry.ValidProbeID(probeID) {
			r.logger.Debug("dropping area entry with invalid probe id",
				"area", name, "location", a.Location, "probe_id", a.ProbeID)
			r.mu.Unlock()
			return
		}
		area.Locations[a.Location] = probeID
		r.ensureLocationLocked(name, a.Location)
		if probe, exists := r.probes[probeID]; exists {
			probe.LocationID = LocationID(name, a.Location)
		} else {
			r.probes[probeID] = &Probe{ID: probeID, LocationID: LocationID(name, a.Location)}
		}
	}

	r.checkDiscoveryLocked()
	r.mu.Unlock()

	r.events.AreaUpdated(name)
}

// ApplyThreshold upserts one area/metric threshold set, creating the area
// entry if absent, and stamps freshness.
func (r *Reconciler) ApplyThreshold(th telemetry.ThresholdAnnouncement) {
	name := canonicalArea(th.Area)
	if name == "" || th.Metric == "" {
		return
	}

	r.mu.Lock()
	area := r.ensureAreaLocked(name)
	area.Thresholds[th.Metric] = ThresholdInfo{
		Area:   name,
		Metric: th.Metric,
		Values: th.Values,
	}
	r.freshness[FreshnessKey(name, th.Metric)] = timestamp.ToUnixMs(r.clock())
	r.checkDiscoveryLocked()
	r.mu.Unlock()

	r.events.ThresholdUpdated(name, th.Metric)
}

// ApplyStat upserts one area/metric statistic, creating the area entry if
// absent, and stamps freshness.
func (r *Reconciler) ApplyStat(s telemetry.StatAnnouncement) {
	name := canonicalArea(s.Area)
	if name == "" || s.Metric == "" {
		return
	}

	r.mu.Lock()
	area := r.ensureAreaLocked(name)
	area.Stats[s.Metric] = StatInfo{
		Area:        name,
		Metric:      s.Metric,
		Min:         s.Min,
		Max:         s.Max,
		MinObserved: s.MinObserved,
		MaxObserved: s.MaxObserved,
	}
	r.freshness[FreshnessKey(name, s.Metric)] = timestamp.ToUnixMs(r.clock())
	r.checkDiscoveryLocked()
	r.mu.Unlock()

	r.events.StatUpdated(name, s.Metric)
}

// ApplyBaseline upserts an area's baseline flag.
func (r *Reconciler) ApplyBaseline(b telemetry.BaselineAnnouncement) {
	name := canonicalArea(b.Area)
	if name == "" {
		return
	}

	r.mu.Lock()
	area := r.ensureAreaLocked(name)
	area.UseBaseline = b.Enabled
	r.mu.Unlock()

	r.events.BaselineUpdated(name, b.Enabled)
}

// ApplyPixels updates one area's occupancy-pixel count, rounded and clamped
// to 0..PixelMax, with an updated-at stamp.
func (r *Reconciler) ApplyPixels(p telemetry.PixelAnnouncement) {
	name := canonicalArea(p.Area)
	if name == "" {
		return
	}

	count := int(math.Round(p.Count))
	if count < 0 {
		count = 0
	}
	if count > PixelMax {
		count = PixelMax
	}

	r.mu.Lock()
	r.pixels[name] = PixelState{
		Count:     count,
		UpdatedAt: timestamp.ToUnixMs(r.clock()),
	}
	r.mu.Unlock()

	r.events.PixelsUpdated(name, count)
}

// ReassignProbe moves a probe to a new area/location in response to an
// explicit accept event. It is the merge behind the device-management ack
// path, not the ingest stream; nothing in the line grammar triggers it.
// The probe is removed from every area's location map
// where it currently appears, then inserted under the new pair; the location
// entity is resolved or created. Last applied wins against concurrent area
// announcements for the same probe.
func (r *Reconciler) ReassignProbe(probeID, areaName, locationName string) bool {
	probeID = telemetry.NormalizeProbeID(probeID)
	areaName = canonicalArea(areaName)
	if !telemetry.ValidProbeID(probeID) || areaName == "" || locationName == "" {
		return false
	}

	r.mu.Lock()
	for _, area := range r.areas {
		for loc, id := range area.Locations {
			if id == probeID {
				delete(area.Locations, loc)
			}
		}
	}

	area := r.ensureAreaLocked(areaName)
	area.Locations[locationName] = probeID
	r.ensureLocationLocked(areaName, locationName)

	locID := LocationID(areaName, locationName)
	if probe, exists := r.probes[probeID]; exists {
		probe.LocationID = locID
	} else {
		r.probes[probeID] = &Probe{ID: probeID, LocationID: locID}
	}
	r.mu.Unlock()

	r.events.ProbeReassigned(probeID, locID)
	return true
}

// ClearProbes removes every probe. This explicit bulk clear, issued from the
// operator-facing management surface, is the only way probes are ever
// deleted; no wire line can cause it.
func (r *Reconciler) ClearProbes() {
	r.mu.Lock()
	r.probes = make(map[string]*Probe)
	for _, area := range r.areas {
		area.Locations = make(map[string]string)
	}
	r.mu.Unlock()

	r.events.ProbesCleared()
}

// StartDiscovery marks area discovery as in progress. The flag clears itself
// once the graph holds the expected number of areas.
func (r *Reconciler) StartDiscovery() {
	r.mu.Lock()
	r.discovering = true
	r.mu.Unlock()
}

// checkDiscoveryLocked stamps completion once all expected areas are present.
func (r *Reconciler) checkDiscoveryLocked() {
	if r.expectedAreas <= 0 || len(r.areas) < r.expectedAreas {
		return
	}
	if r.discovering || r.areasLastFetched == 0 {
		r.discovering = false
		r.areasLastFetched = timestamp.ToUnixMs(r.clock())
	}
}

// Restore repopulates the graph from persisted entities during startup
// read-through. Restored facts never overwrite live ones: restore runs before
// ingestion starts.
func (r *Reconciler) Restore(probes []Probe, locations []Location, areas []Area) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range probes {
		id := telemetry.NormalizeProbeID(p.ID)
		if !telemetry.ValidProbeID(id) {
			continue
		}
		probe := p
		probe.ID = id
		r.probes[id] = &probe
	}
	for _, l := range locations {
		loc := l
		r.locations[loc.ID] = &loc
	}
	for _, a := range areas {
		area := a.clone()
		if area.Name == "" {
			continue
		}
		r.areas[area.Name] = &area
	}
	r.checkDiscoveryLocked()
}

func (r *Reconciler) ensureAreaLocked(name string) *Area {
	area, exists := r.areas[name]
	if !exists {
		area = &Area{
			Name:       name,
			Locations:  make(map[string]string),
			Thresholds: make(map[telemetry.Metric]ThresholdInfo),
			Stats:      make(map[telemetry.Metric]StatInfo),
		}
		r.areas[name] = area
	}
	return area
}

func (r *Reconciler) ensureLocationLocked(area, name string) *Location {
	id := LocationID(area, name)
	loc, exists := r.locations[id]
	if !exists {
		loc = &Location{ID: id, Name: name, Area: area}
		r.locations[id] = loc
	}
	return loc
}

// canonicalArea folds an area name onto its canonical upper-case token.
func canonicalArea(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// --- snapshot accessors ---

// Area returns a deep copy of one area.
func (r *Reconciler) Area(name string) (Area, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	area, exists := r.areas[canonicalArea(name)]
	if !exists {
		return Area{}, false
	}
	return area.clone(), true
}

// Areas returns deep copies of all areas, sorted by name.
func (r *Reconciler) Areas() []Area {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Area, 0, len(r.areas))
	for _, area := range r.areas {
		out = append(out, area.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Probe returns one probe by id.
func (r *Reconciler) Probe(id string) (Probe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	probe, exists := r.probes[telemetry.NormalizeProbeID(id)]
	if !exists {
		return Probe{}, false
	}
	return *probe, true
}

// Probes returns all probes, sorted by id.
func (r *Reconciler) Probes() []Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Probe, 0, len(r.probes))
	for _, probe := range r.probes {
		out = append(out, *probe)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Locations returns all locations, sorted by id.
func (r *Reconciler) Locations() []Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Location, 0, len(r.locations))
	for _, loc := range r.locations {
		out = append(out, *loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Readings returns the most recent limit readings (all if limit <= 0).
func (r *Reconciler) Readings(limit int) []telemetry.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.readings)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]telemetry.Reading, n)
	copy(out, r.readings[len(r.readings)-n:])
	return out
}

// Pixels returns a copy of the pixel state map.
func (r *Reconciler) Pixels() map[string]PixelState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]PixelState, len(r.pixels))
	for k, v := range r.pixels {
		out[k] = v
	}
	return out
}

// Freshness returns the last-update stamp for an area/metric pair, 0 when the
// pair has never been updated.
func (r *Reconciler) Freshness(area string, metric telemetry.Metric) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.freshness[FreshnessKey(canonicalArea(area), metric)]
}

// DiscoveryComplete reports whether all expected areas have been discovered.
func (r *Reconciler) DiscoveryComplete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expectedAreas > 0 && len(r.areas) >= r.expectedAreas
}

// Discovering reports whether a discovery round is in progress.
func (r *Reconciler) Discovering() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.discovering
}

// AreasLastFetched returns when discovery last completed, 0 if never.
func (r *Reconciler) AreasLastFetched() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return timestamp.FromUnixMs(r.areasLastFetched)
}
