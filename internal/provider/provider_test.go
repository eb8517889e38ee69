package provider

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/xtxerr/invsync/internal/entity"
	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
)

type stubProvider struct {
	id       string
	opts     Options
	sessions Sessions
}

func (p *stubProvider) ID() string { return p.id }

func (p *stubProvider) Connect(context.Context, *group.DataSource) (Session, error) {
	return nil, errors.ErrConnection
}

func (p *stubProvider) MappedPoll(ctx context.Context, g *group.Group) ([]*entity.Entity, error) {
	return Poll(ctx, p.id, g, p.opts, func(context.Context, *group.DataSource) ([]*entity.Entity, error) {
		return nil, nil
	})
}

func (p *stubProvider) Disconnect() { p.sessions.CloseAll() }

func stubFactory(id string) Factory {
	return func(opts Options) Provider { return &stubProvider{id: id, opts: opts} }
}

func testGroup(sources ...string) *group.Group {
	var ds []*group.DataSource
	for _, s := range sources {
		ds = append(ds, &group.DataSource{ID: s, Host: s})
	}
	return group.NewAdHoc("test", "stub", ds...)
}

func TestPoll_DeclarationOrderAndSource(t *testing.T) {
	g := testGroup("a", "b", "c")

	var steps []string
	opts := Options{OnStep: func(done, total int, ds *group.DataSource) {
		steps = append(steps, fmt.Sprintf("%d/%d %s", done, total, ds.ID))
	}}

	got, err := Poll(context.Background(), "stub", g, opts, func(_ context.Context, ds *group.DataSource) ([]*entity.Entity, error) {
		root := entity.New("Thing", ds.ID, entity.DataTypeObject)
		_ = root.AddChild(entity.New("Part", "p", entity.DataTypeScalar))
		return []*entity.Entity{root}, nil
	})
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d entities, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Name != want || got[i].Source != want {
			t.Errorf("entity %d = %s (source %s), want %s", i, got[i].Name, got[i].Source, want)
		}
		if got[i].Children()[0].Source != want {
			t.Errorf("child of %s has source %q", want, got[i].Children()[0].Source)
		}
	}
	if want := []string{"1/3 a", "2/3 b", "3/3 c"}; fmt.Sprint(steps) != fmt.Sprint(want) {
		t.Errorf("steps = %v, want %v", steps, want)
	}
}

func TestPoll_PartialFailure(t *testing.T) {
	g := testGroup("a", "b", "c")
	boom := errors.Connection("b", fmt.Errorf("refused"))

	var polled []string
	got, err := Poll(context.Background(), "stub", g, Options{}, func(_ context.Context, ds *group.DataSource) ([]*entity.Entity, error) {
		polled = append(polled, ds.ID)
		if ds.ID == "b" {
			return nil, boom
		}
		return []*entity.Entity{entity.New("Thing", ds.ID, entity.DataTypeObject)}, nil
	})

	var pe *PollError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *PollError", err)
	}
	if pe.Source != "b" {
		t.Errorf("Source = %q, want b", pe.Source)
	}
	if len(pe.Partial) != 1 || pe.Partial[0].Name != "a" {
		t.Errorf("Partial = %v, want [a]", pe.Partial)
	}
	if len(got) != 1 {
		t.Errorf("returned %d entities, want 1", len(got))
	}
	if !errors.Is(err, errors.ErrPoll) || !errors.Is(err, errors.ErrConnection) {
		t.Errorf("error %v does not match ErrPoll and ErrConnection", err)
	}
	if fmt.Sprint(polled) != "[a b]" {
		t.Errorf("polled = %v, want [a b]", polled)
	}
}

func TestPoll_CheckpointStops(t *testing.T) {
	g := testGroup("a", "b")
	stop := errors.New("stopped")

	calls := 0
	opts := Options{Checkpoint: func(context.Context) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	}}

	_, err := Poll(context.Background(), "stub", g, opts, func(context.Context, *group.DataSource) ([]*entity.Entity, error) {
		return nil, nil
	})
	if !errors.Is(err, stop) {
		t.Errorf("error = %v, want %v", err, stop)
	}
}

func TestPoll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Poll(ctx, "stub", testGroup("a"), Options{}, func(context.Context, *group.DataSource) ([]*entity.Entity, error) {
		t.Error("source polled after cancellation")
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestPoll_TimeoutBounded(t *testing.T) {
	g := testGroup("slow")
	g.Sources[0].PollTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := Poll(context.Background(), "stub", g, Options{}, func(ctx context.Context, ds *group.DataSource) ([]*entity.Entity, error) {
		<-ctx.Done()
		return nil, errors.Execution("show slow", ctx.Err())
	})

	if !errors.Is(err, errors.ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("poll timeout not applied")
	}
}

func TestPoll_PanicBecomesError(t *testing.T) {
	_, err := Poll(context.Background(), "stub", testGroup("a"), Options{}, func(context.Context, *group.DataSource) ([]*entity.Entity, error) {
		panic("driver bug")
	})
	if !errors.Is(err, errors.ErrExecution) {
		t.Errorf("error = %v, want ErrExecution", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Descriptor{ID: "stub", Family: "f", Factory: stubFactory("stub")})
	r.MustRegister(Descriptor{ID: "stub2", Family: "f", Factory: stubFactory("stub2")})
	r.MustRegister(Descriptor{ID: "other", Family: "g", Factory: stubFactory("other")})

	if err := r.Register(Descriptor{ID: "stub", Family: "f", Factory: stubFactory("stub")}); err == nil {
		t.Error("duplicate Register succeeded")
	}
	if err := r.Register(Descriptor{ID: "x", Family: "f"}); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("Register without factory error = %v", err)
	}
	if _, err := r.New("nope", Options{}); !errors.Is(err, errors.ErrUnknownProvider) {
		t.Errorf("New(nope) error = %v", err)
	}
	if got := fmt.Sprint(r.IDs()); got != "[other stub stub2]" {
		t.Errorf("IDs() = %s", got)
	}

	g := testGroup("a")
	g.Sources[0].Provider = "stub2"
	p, err := r.Bind(g, Options{})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if g.Bound() != p || p.ID() != "stub" {
		t.Errorf("bound provider = %v", g.Bound())
	}

	bad := testGroup("a")
	bad.Sources[0].Provider = "other"
	if _, err := r.Bind(bad, Options{}); !errors.Is(err, errors.ErrIncompatibleProvider) {
		t.Errorf("Bind(mixed families) error = %v", err)
	}
}

type closeCounter struct{ closed int }

func (c *closeCounter) Execute(context.Context, string) (string, error) { return "", nil }
func (c *closeCounter) Close() error {
	c.closed++
	return errors.New("already closed")
}

func TestSessions(t *testing.T) {
	var s Sessions
	a, b := &closeCounter{}, &closeCounter{}
	s.Track(a, "a")
	s.Track(b, "b")

	s.Release(a)
	s.Release(a)
	if a.closed != 1 {
		t.Errorf("a closed %d times, want 1", a.closed)
	}

	s.CloseAll()
	if b.closed != 1 || s.Len() != 0 {
		t.Errorf("b closed %d times, %d sessions left", b.closed, s.Len())
	}
}
