package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"aether-sync/domain"
	"aether-sync/internal/consts"
	"aether-sync/room"
)

type scopedStore struct {
	mu    sync.Mutex
	calls int
}

// FetchTasks returns a single synthetic task naming the scope it was asked
// for, plus a call counter, so tests can tell snapshots apart.
func (s *scopedStore) FetchTasks(ctx context.Context, scope domain.Scope) ([]domain.Task, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	org := scope.OrgID
	return []domain.Task{{
		ID:             fmt.Sprintf("snap-%d", n),
		Title:          scope.RoomKey(),
		Status:         domain.StatusTodo,
		OrganisationID: &org,
	}}, nil
}

func startSubscriber(t *testing.T, store Storage, mgr *room.Manager) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go SubscribeUpdates(ctx, rc, consts.DefaultUpdatesChannel, store, mgr)

	// Wait for the subscriber to attach before tests publish.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		subs, err := rc.PubSubNumSub(ctx, consts.DefaultUpdatesChannel).Result()
		if err == nil && subs[consts.DefaultUpdatesChannel] > 0 {
			return rc
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscriber never attached")
	return nil
}

func waitEvent(t *testing.T, c *room.Connection) room.Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return room.Event{}
	}
}

func expectSilence(t *testing.T, c *room.Connection) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %q: %s", ev.Name, ev.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func snapshotTasks(t *testing.T, ev room.Event) []domain.Task {
	t.Helper()
	if ev.Name != consts.EventUpdateTasks {
		t.Fatalf("expected %q event, got %q", consts.EventUpdateTasks, ev.Name)
	}
	var tasks []domain.Task
	if err := json.Unmarshal(ev.Data, &tasks); err != nil {
		t.Fatalf("unable to decode snapshot: %v", err)
	}
	return tasks
}

func TestRoomNoticeReachesRoomMembersOnly(t *testing.T) {
	mgr := room.NewManager()
	store := &scopedStore{}
	rc := startSubscriber(t, store, mgr)

	scope := domain.Scope{OrgID: "org1", UserID: "u1", Board: domain.BoardMain}
	member := mgr.Register(scope)
	mgr.Join(member, scope.RoomKey())

	other := domain.Scope{OrgID: "org2", UserID: "u2", Board: domain.BoardMain}
	outsider := mgr.Register(other)
	mgr.Join(outsider, other.RoomKey())

	pub := NewPublisher(rc, "")
	if err := pub.PublishRoom(context.Background(), scope); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	tasks := snapshotTasks(t, waitEvent(t, member))
	if len(tasks) != 1 || tasks[0].Title != "org1:main" {
		t.Fatalf("expected snapshot for org1:main, got %#v", tasks)
	}
	expectSilence(t, outsider)
}

func TestGlobalNoticeRefreshesEveryConnectionInItsOwnScope(t *testing.T) {
	mgr := room.NewManager()
	store := &scopedStore{}
	rc := startSubscriber(t, store, mgr)

	first := domain.Scope{OrgID: "org1", UserID: "u1", Board: domain.BoardMain}
	a := mgr.Register(first)
	mgr.Join(a, first.RoomKey())

	second := domain.Scope{OrgID: "org2", UserID: "u2", Board: domain.BoardPersonal}
	b := mgr.Register(second)
	mgr.Join(b, second.RoomKey())

	// Scopeless connections stay tracked but receive no snapshots.
	roomless := mgr.Register(domain.Scope{})

	pub := NewPublisher(rc, "")
	if err := pub.PublishAll(context.Background()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if got := snapshotTasks(t, waitEvent(t, a)); got[0].Title != "org1:main" {
		t.Fatalf("expected org1:main snapshot, got %q", got[0].Title)
	}
	if got := snapshotTasks(t, waitEvent(t, b)); got[0].Title != "org2:personal" {
		t.Fatalf("expected org2:personal snapshot, got %q", got[0].Title)
	}
	expectSilence(t, roomless)
}

func TestRoomBroadcastsArriveInPublishOrder(t *testing.T) {
	mgr := room.NewManager()
	store := &scopedStore{}
	rc := startSubscriber(t, store, mgr)

	scope := domain.Scope{OrgID: "org1", UserID: "u1", Board: domain.BoardMain}
	c := mgr.Register(scope)
	mgr.Join(c, scope.RoomKey())

	pub := NewPublisher(rc, "")
	const updates = 5
	for i := 0; i < updates; i++ {
		if err := pub.PublishRoom(context.Background(), scope); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	for i := 1; i <= updates; i++ {
		tasks := snapshotTasks(t, waitEvent(t, c))
		want := fmt.Sprintf("snap-%d", i)
		if tasks[0].ID != want {
			t.Fatalf("snapshot %d out of order: got %q", i, tasks[0].ID)
		}
	}
}
