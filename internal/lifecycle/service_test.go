package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/example/agro-freight/internal/auth"
	"github.com/example/agro-freight/internal/broadcast"
	"github.com/example/agro-freight/internal/models"
	"github.com/example/agro-freight/internal/storage"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (p *recordingPublisher) Publish(_ context.Context, m broadcast.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.LifecycleEvent
}

func (s *recordingSink) PublishEvent(_ context.Context, ev models.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

type queue struct{ ids []string }

func (q *queue) Submit(id string) bool { q.ids = append(q.ids, id); return true }

var (
	client      = auth.Actor{UserID: "client-1", Role: auth.RoleClient}
	transporter = auth.Actor{UserID: "trans-1", Role: auth.RoleTransporter}
	fixedNow    = time.Date(2025, 4, 2, 7, 30, 0, 0, time.UTC)
)

type fixture struct {
	svc    *Service
	store  *storage.MemoryStore
	pub    *recordingPublisher
	sink   *recordingSink
	rating *queue
}

func newFixture() *fixture {
	f := &fixture{store: storage.NewMemoryStore(), pub: &recordingPublisher{}, sink: &recordingSink{}, rating: &queue{}}
	f.svc = &Service{
		Store:     f.store,
		Publisher: f.pub,
		Events:    f.sink,
		Ratings:   f.rating,
		Now:       func() time.Time { return fixedNow },
	}
	return f
}

func input(weight float64) models.ShipmentInput {
	return models.ShipmentInput{
		ProductType: "potatoes",
		Quantity:    40,
		Weight:      weight,
		Pickup:      models.Pickup{Address: "Equator A", Location: models.Coord{Lat: 0, Lon: 0}, Date: fixedNow.Add(24 * time.Hour)},
		Delivery:    models.Delivery{Address: "Equator B", Location: models.Coord{Lat: 0, Lon: 1}},
		Price:       15000,
	}
}

func (f *fixture) create(t *testing.T, weight float64) *models.Shipment {
	t.Helper()
	sh, err := f.svc.Create(context.Background(), client, input(weight))
	if err != nil {
		t.Fatal(err)
	}
	return sh
}

func (f *fixture) vehicle(t *testing.T, owner auth.Actor, plate string, capacity float64) *models.Vehicle {
	t.Helper()
	v, err := f.svc.RegisterVehicle(context.Background(), owner, models.VehicleInput{
		Type: models.VehicleTruck, Capacity: capacity, LicensePlate: plate, Model: "Renault C", Year: 2019,
	})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// inTransit returns a shipment accepted by transporter and already on the road.
func (f *fixture) inTransit(t *testing.T) (*models.Shipment, *models.Vehicle) {
	t.Helper()
	ctx := context.Background()
	sh := f.create(t, 2)
	v := f.vehicle(t, transporter, "00123-116-16", 10)
	if _, err := f.svc.Accept(ctx, sh.ID, transporter.UserID, v.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateStatus(ctx, sh.ID, transporter.UserID, models.StatusInTransit); err != nil {
		t.Fatal(err)
	}
	return sh, v
}

func TestCreateSeedsTrackingRecord(t *testing.T) {
	f := newFixture()
	sh := f.create(t, 2)
	if sh.Status != models.StatusPending || sh.Transporter != "" || sh.VehicleID != "" {
		t.Fatalf("unexpected shipment %+v", sh)
	}
	if sh.CurrentLocation != sh.Pickup.Location {
		t.Fatalf("current location should start at pickup, got %+v", sh.CurrentLocation)
	}
	if sh.Route.Distance != 111.19 {
		t.Fatalf("route distance should be filled, got %v", sh.Route.Distance)
	}
	if sh.PriceStatus != models.PriceProposed {
		t.Fatalf("price status default, got %q", sh.PriceStatus)
	}
	tr, err := f.store.GetTracking(context.Background(), sh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.Locations) != 0 || len(tr.Events) != 1 || tr.Events[0].Type != models.EventPickup {
		t.Fatalf("unexpected tracking record %+v", tr)
	}
}

func TestCreateRejectsWrongRoleAndBadInput(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, transporter, input(2)); !errors.Is(err, ErrForbiddenRole) {
		t.Fatalf("expected ErrForbiddenRole, got %v", err)
	}
	if _, err := f.svc.Create(ctx, client, input(0.05)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	admin := auth.Actor{UserID: "root", Role: auth.RoleAdmin}
	if _, err := f.svc.Create(ctx, admin, input(2)); err != nil {
		t.Fatalf("admin should be able to create: %v", err)
	}
}

func TestAcceptClaimsVehicleOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sh := f.create(t, 2)
	v := f.vehicle(t, transporter, "00123-116-16", 10)

	got, err := f.svc.Accept(ctx, sh.ID, transporter.UserID, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusAccepted || got.Transporter != transporter.UserID || got.VehicleID != v.ID {
		t.Fatalf("unexpected shipment %+v", got)
	}
	if got.Price != 15000 {
		t.Fatalf("client price must not change, got %v", got.Price)
	}
	if got.EstimatedPrice != 11119 {
		t.Fatalf("expected estimate 11119, got %v", got.EstimatedPrice)
	}
	if got.Delivery.Date != nil || got.CurrentLocation != sh.CurrentLocation {
		t.Fatalf("accept changed unrelated fields: %+v", got)
	}
	after, _ := f.store.GetVehicle(ctx, v.ID)
	if after.IsAvailable {
		t.Fatal("vehicle should be claimed")
	}
	tr, _ := f.store.GetTracking(ctx, sh.ID)
	if last := tr.Events[len(tr.Events)-1]; last.Type != models.EventAccepted {
		t.Fatalf("expected accepted event, got %s", last.Type)
	}
	if n := len(f.pub.msgs); n != 1 || f.pub.msgs[0].Type != broadcast.TypeStatusUpdate || f.pub.msgs[0].Status != models.StatusAccepted {
		t.Fatalf("expected one status-update, got %+v", f.pub.msgs)
	}
}

func TestAcceptCapacityExceeded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sh := f.create(t, 5)
	v := f.vehicle(t, transporter, "00123-116-16", 3)

	_, err := f.svc.Accept(ctx, sh.ID, transporter.UserID, v.ID)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	again, _ := f.store.GetShipment(ctx, sh.ID)
	if again.Status != models.StatusPending || again.Transporter != "" {
		t.Fatalf("shipment must be untouched: %+v", again)
	}
	vv, _ := f.store.GetVehicle(ctx, v.ID)
	if !vv.IsAvailable {
		t.Fatal("vehicle must stay available")
	}
}

func TestAcceptPreconditions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sh := f.create(t, 2)
	other := auth.Actor{UserID: "trans-2", Role: auth.RoleTransporter}
	foreign := f.vehicle(t, other, "99999-116-31", 10)
	mine := f.vehicle(t, transporter, "00123-116-16", 10)

	if _, err := f.svc.Accept(ctx, "missing", transporter.UserID, mine.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing shipment: %v", err)
	}
	if _, err := f.svc.Accept(ctx, sh.ID, transporter.UserID, foreign.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign vehicle: %v", err)
	}
	if _, err := f.svc.Accept(ctx, sh.ID, transporter.UserID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty vehicle: %v", err)
	}
	if _, err := f.svc.Accept(ctx, sh.ID, transporter.UserID, mine.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Accept(ctx, sh.ID, other.UserID, foreign.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("already accepted: %v", err)
	}
	second := f.create(t, 2)
	if _, err := f.svc.Accept(ctx, second.ID, transporter.UserID, mine.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("busy vehicle: %v", err)
	}
}

func TestConcurrentAcceptHasOneWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sh := f.create(t, 2)
	t2 := auth.Actor{UserID: "trans-2", Role: auth.RoleTransporter}
	v1 := f.vehicle(t, transporter, "00123-116-16", 10)
	v2 := f.vehicle(t, t2, "00456-116-31", 10)

	type attempt struct {
		who, vehicle string
	}
	attempts := []attempt{{transporter.UserID, v1.ID}, {t2.UserID, v2.ID}}
	errs := make([]error, len(attempts))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, a := range attempts {
		wg.Add(1)
		go func(i int, a attempt) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Accept(ctx, sh.ID, a.who, a.vehicle)
		}(i, a)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case !errors.Is(err, ErrInvalidState):
			t.Fatalf("loser should fail with ErrInvalidState, got %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	final, _ := f.store.GetShipment(ctx, sh.ID)
	winnerVehicle := v1.ID
	loserVehicle := v2.ID
	if final.Transporter == t2.UserID {
		winnerVehicle, loserVehicle = v2.ID, v1.ID
	}
	w, _ := f.store.GetVehicle(ctx, winnerVehicle)
	l, _ := f.store.GetVehicle(ctx, loserVehicle)
	if w.IsAvailable || !l.IsAvailable {
		t.Fatalf("winner vehicle available=%v loser vehicle available=%v", w.IsAvailable, l.IsAvailable)
	}
}

func TestCanTransition(t *testing.T) {
	all := []models.Status{models.StatusPending, models.StatusAccepted, models.StatusInTransit, models.StatusDelivered, models.StatusCancelled}
	allowed := map[[2]models.Status]bool{
		{models.StatusAccepted, models.StatusInTransit}:  true,
		{models.StatusAccepted, models.StatusCancelled}:  true,
		{models.StatusInTransit, models.StatusDelivered}: true,
		{models.StatusInTransit, models.StatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != allowed[[2]models.Status{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestIllegalTransitionLeavesStateUnchanged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sh := f.create(t, 2)
	v := f.vehicle(t, transporter, "00123-116-16", 10)
	if _, err := f.svc.Accept(ctx, sh.ID, transporter.UserID, v.ID); err != nil {
		t.Fatal(err)
	}
	before, _ := f.store.GetTracking(ctx, sh.ID)

	for _, to := range []models.Status{models.StatusDelivered, models.StatusPending, models.StatusAccepted} {
		if _, err := f.svc.UpdateStatus(ctx, sh.ID, transporter.UserID, to); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("accepted -> %s: expected ErrInvalidTransition, got %v", to, err)
		}
	}
	if _, err := f.svc.UpdateStatus(ctx, sh.ID, transporter.UserID, "lost"); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown status: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, sh.ID, "trans-2", models.StatusInTransit); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other transporter: %v", err)
	}
	after, _ := f.store.GetShipment(ctx, sh.ID)
	tr, _ := f.store.GetTracking(ctx, sh.ID)
	if after.Status != models.StatusAccepted || len(tr.Events) != len(before.Events) {
		t.Fatalf("state changed: status=%s events=%d", after.Status, len(tr.Events))
	}
}

func TestDeliveredReleasesVehicleAndCounts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sh, v := f.inTransit(t)
	before, _ := f.store.GetTransporter(ctx, transporter.UserID)

	got, err := f.svc.UpdateStatus(ctx, sh.ID, transporter.UserID, models.StatusDelivered)
	if err != nil {
		t.Fatal(err)
	}
	if got.Delivery.Date == nil || !got.Delivery.Date.Equal(fixedNow) {
		t.Fatalf("delivery date not stamped: %+v", got.Delivery)
	}
	vv, _ := f.store.GetVehicle(ctx, v.ID)
	if !vv.IsAvailable {
		t.Fatal("vehicle should be free again")
	}
	after, _ := f.store.GetTransporter(ctx, transporter.UserID)
	if after.TotalDeliveries != before.TotalDeliveries+1 {
		t.Fatalf("deliveries %d -> %d", before.TotalDeliveries, after.TotalDeliveries)
	}
	if len(f.rating.ids) != 1 || f.rating.ids[0] != transporter.UserID {
		t.Fatalf("rating not submitted: %v", f.rating.ids)
	}
	tr, _ := f.store.GetTracking(ctx, sh.ID)
	if last := tr.Events[len(tr.Events)-1]; last.Type != models.EventDelivered {
		t.Fatalf("expected delivered event, got %s", last.Type)
	}
	if _, err := f.svc.UpdateStatus(ctx, sh.ID, transporter.UserID, models.StatusCancelled); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("delivered is terminal: %v", err)
	}
}

func TestTransporterCancelReleasesVehicle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sh, v := f.inTransit(t)
	got, err := f.svc.UpdateStatus(ctx, sh.ID, transporter.UserID, models.StatusCancelled)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCancelled || got.Delivery.Date != nil {
		t.Fatalf("unexpected shipment %+v", got)
	}
	vv, _ := f.store.GetVehicle(ctx, v.ID)
	if !vv.IsAvailable {
		t.Fatal("vehicle should be released on cancel")
	}
	tp, _ := f.store.GetTransporter(ctx, transporter.UserID)
	if tp.TotalDeliveries != 0 || len(f.rating.ids) != 0 {
		t.Fatal("cancel must not count as a delivery")
	}
}

func TestRecordLocationOnlyInTransit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sh := f.create(t, 2)
	sample := models.LocationSample{Coordinates: models.Coord{Lat: 0.2, Lon: 0.3}, Speed: 65, Heading: 90}

	if _, err := f.svc.RecordLocation(ctx, sh.ID, transporter.UserID, sample); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unassigned shipment: %v", err)
	}
	v := f.vehicle(t, transporter, "00123-116-16", 10)
	if _, err := f.svc.Accept(ctx, sh.ID, transporter.UserID, v.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RecordLocation(ctx, sh.ID, transporter.UserID, sample); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("accepted shipment: %v", err)
	}
	tr, _ := f.store.GetTracking(ctx, sh.ID)
	if len(tr.Locations) != 0 {
		t.Fatalf("nothing should be appended, got %d", len(tr.Locations))
	}
	if _, err := f.svc.RecordLocation(ctx, sh.ID, transporter.UserID, models.LocationSample{Coordinates: models.Coord{Lat: 91}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad coordinates: %v", err)
	}
}

func TestRecordLocationAppendsAndBroadcasts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sh, _ := f.inTransit(t)
	f.pub.msgs = nil
	f.sink.events = nil

	sample := models.LocationSample{Coordinates: models.Coord{Lat: 0.2, Lon: 0.3}, Speed: 65, Heading: 90}
	got, err := f.svc.RecordLocation(ctx, sh.ID, transporter.UserID, sample)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Timestamp.Equal(fixedNow) {
		t.Fatalf("sample should be stamped, got %v", got.Timestamp)
	}
	cur, _ := f.store.GetShipment(ctx, sh.ID)
	if cur.CurrentLocation != sample.Coordinates {
		t.Fatalf("current location not moved: %+v", cur.CurrentLocation)
	}
	if len(f.pub.msgs) != 1 || f.pub.msgs[0].Type != broadcast.TypeLocationUpdate || *f.pub.msgs[0].Location != sample.Coordinates {
		t.Fatalf("expected one location-update, got %+v", f.pub.msgs)
	}
	if len(f.sink.events) != 1 || f.sink.events[0].Kind != models.LifecycleLocation {
		t.Fatalf("expected one location lifecycle event, got %+v", f.sink.events)
	}
}

type hubSub struct {
	id  string
	got []broadcast.Message
}

func (h *hubSub) ID() string { return h.id }

func (h *hubSub) Send(p []byte) bool {
	var m broadcast.Message
	if err := json.Unmarshal(p, &m); err != nil {
		return false
	}
	h.got = append(h.got, m)
	return true
}

func TestSubscriberSeesOnlyItsShipment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hub := broadcast.NewHub(nil)
	f.svc.Publisher = hub

	x, _ := f.inTransit(t)
	y := f.create(t, 1)
	watcherX := &hubSub{id: "wx"}
	watcherY := &hubSub{id: "wy"}
	hub.Join(watcherX, x.ID)
	hub.Join(watcherY, y.ID)

	if _, err := f.svc.RecordLocation(ctx, x.ID, transporter.UserID, models.LocationSample{Coordinates: models.Coord{Lat: 0.5, Lon: 0.5}}); err != nil {
		t.Fatal(err)
	}
	if len(watcherX.got) != 1 || watcherX.got[0].Type != broadcast.TypeLocationUpdate || watcherX.got[0].ShipmentID != x.ID {
		t.Fatalf("watcher of X got %+v", watcherX.got)
	}
	if len(watcherY.got) != 0 {
		t.Fatalf("watcher of Y got %+v", watcherY.got)
	}
}

func TestHistoryTotalDistance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sh, _ := f.inTransit(t)

	h, err := f.svc.History(ctx, sh.ID, client.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if h.TotalDistance != 0 {
		t.Fatalf("no samples should mean zero distance, got %v", h.TotalDistance)
	}
	for _, c := range []models.Coord{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}} {
		if _, err := f.svc.RecordLocation(ctx, sh.ID, transporter.UserID, models.LocationSample{Coordinates: c}); err != nil {
			t.Fatal(err)
		}
	}
	h, err = f.svc.History(ctx, sh.ID, transporter.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(h.TotalDistance-111.19) > 0.01 || len(h.Locations) != 2 {
		t.Fatalf("unexpected history %+v", h)
	}
	if _, err := f.svc.History(ctx, sh.ID, "stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger: %v", err)
	}
	if _, err := f.svc.History(ctx, "missing", client.UserID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
}

func TestClientCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pending := f.create(t, 2)
	if _, err := f.svc.Cancel(ctx, pending.ID, "client-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other client: %v", err)
	}
	got, err := f.svc.Cancel(ctx, pending.ID, client.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCancelled || got.VehicleID != "" {
		t.Fatalf("unexpected %+v", got)
	}
	tr, _ := f.store.GetTracking(ctx, pending.ID)
	if last := tr.Events[len(tr.Events)-1]; last.Type != models.EventCancelled {
		t.Fatalf("expected cancelled event, got %s", last.Type)
	}

	accepted := f.create(t, 2)
	v := f.vehicle(t, transporter, "00123-116-16", 10)
	if _, err := f.svc.Accept(ctx, accepted.ID, transporter.UserID, v.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Cancel(ctx, accepted.ID, client.UserID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("accepted shipment: %v", err)
	}
	vv, _ := f.store.GetVehicle(ctx, v.ID)
	if vv.IsAvailable {
		t.Fatal("vehicle availability must be untouched")
	}
}

func TestRecordEventTaggedUnion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sh, _ := f.inTransit(t)
	loc := models.Coord{Lat: 0.1, Lon: 0.1}

	cases := []struct {
		name string
		in   models.EventInput
		ok   bool
	}{
		{"stop with location", models.EventInput{Type: models.EventStop, Location: &loc}, true},
		{"stop without location", models.EventInput{Type: models.EventStop}, false},
		{"issue with note", models.EventInput{Type: models.EventIssue, Note: "flat tyre"}, true},
		{"issue without note", models.EventInput{Type: models.EventIssue}, false},
		{"system accepted", models.EventInput{Type: models.EventAccepted}, false},
		{"system cancelled", models.EventInput{Type: models.EventCancelled}, false},
		{"unknown", models.EventInput{Type: "teleport"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RecordEvent(ctx, sh.ID, transporter.UserID, tc.in)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if _, err := f.svc.RecordEvent(ctx, sh.ID, "trans-2", models.EventInput{Type: models.EventPickup}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other transporter: %v", err)
	}
}

func TestListAvailableNeedsFreeVehicleAndDuty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.create(t, 2)

	got, err := f.svc.ListAvailable(ctx, transporter.UserID)
	if err != nil || len(got) != 0 {
		t.Fatalf("no vehicle: %v %d", err, len(got))
	}
	f.vehicle(t, transporter, "00123-116-16", 10)
	got, _ = f.svc.ListAvailable(ctx, transporter.UserID)
	if len(got) != 1 {
		t.Fatalf("expected 1 pending shipment, got %d", len(got))
	}
	if _, err := f.svc.SetAvailability(ctx, transporter, false); err != nil {
		t.Fatal(err)
	}
	got, _ = f.svc.ListAvailable(ctx, transporter.UserID)
	if len(got) != 0 {
		t.Fatalf("off duty should see nothing, got %d", len(got))
	}
	if _, err := f.svc.SetAvailability(ctx, client, true); !errors.Is(err, ErrForbiddenRole) {
		t.Fatalf("client availability: %v", err)
	}
}

func TestRegisterVehicleRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	in := models.VehicleInput{Type: models.VehicleVan, Capacity: 1.5, LicensePlate: "abc-1", Model: "Hilux", Year: 2020}
	if _, err := f.svc.RegisterVehicle(ctx, client, in); !errors.Is(err, ErrForbiddenRole) {
		t.Fatalf("client: %v", err)
	}
	v, err := f.svc.RegisterVehicle(ctx, transporter, in)
	if err != nil {
		t.Fatal(err)
	}
	if v.LicensePlate != "ABC-1" || !v.IsAvailable {
		t.Fatalf("unexpected vehicle %+v", v)
	}
	if _, err := f.svc.RegisterVehicle(ctx, transporter, in); !errors.Is(err, ErrValidation) {
		t.Fatalf("duplicate plate: %v", err)
	}
	in.Capacity = 0.2
	in.LicensePlate = "other"
	if _, err := f.svc.RegisterVehicle(ctx, transporter, in); !errors.Is(err, ErrValidation) {
		t.Fatalf("tiny capacity: %v", err)
	}
}

func TestListStatusFilter(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.create(t, 1)
	f.create(t, 1)
	if _, err := f.svc.Cancel(ctx, a.ID, client.UserID); err != nil {
		t.Fatal(err)
	}
	all, _ := f.svc.ListForClient(ctx, client.UserID, "")
	cancelled, _ := f.svc.ListForClient(ctx, client.UserID, models.StatusCancelled)
	if len(all) != 2 || len(cancelled) != 1 {
		t.Fatalf("all=%d cancelled=%d", len(all), len(cancelled))
	}
	if _, err := f.svc.ListForTransporter(ctx, transporter.UserID, "lost"); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad status filter: %v", err)
	}
}
