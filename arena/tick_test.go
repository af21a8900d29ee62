package arena

import (
	"math"
	"math/rand"
	"testing"
)

const eps = 1e-9

func TestStepAbsorbsSmallerOverlappingPlayer(t *testing.T) {
	w := newTestWorld(t, nil)
	w.Join(JoinRequest{ClientID: "p1", Position: &Vec2{X: 100, Y: 100}, Radius: ptr(20.0)})
	w.Join(JoinRequest{ClientID: "p2", Position: &Vec2{X: 110, Y: 100}, Radius: ptr(25.0)})
	p1, _ := w.Player("p1")
	p1ID := p1.ID

	res := w.Step()

	if len(res.Absorbed) != 1 {
		t.Fatalf("absorbed events = %d, want 1", len(res.Absorbed))
	}
	ev := res.Absorbed[0]
	if ev.Victim.ClientID != "p1" || ev.ByClientID != "p2" {
		t.Fatalf("event = %+v, want p1 absorbed by p2", ev)
	}
	if _, ok := w.Player("p1"); ok {
		t.Fatalf("p1 still in store")
	}
	if cells := w.Grid().Locate(KindPlayer, p1ID); len(cells) != 0 {
		t.Fatalf("p1 still indexed in %v", cells)
	}
	p2, _ := w.Player("p2")
	if want := math.Sqrt(825); math.Abs(p2.Radius-want) > eps {
		t.Fatalf("p2 radius = %v, want %v", p2.Radius, want)
	}
	if p2.Score != 1 {
		t.Fatalf("p2 score = %d, want 1", p2.Score)
	}
}

func TestStepAbsorptionFormula(t *testing.T) {
	cases := []struct{ r1, r2 float64 }{
		{30, 10},
		{50, 47},
		{12.5, 3},
	}
	for _, c := range cases {
		w := newTestWorld(t, nil)
		w.Join(JoinRequest{ClientID: "big", Position: &Vec2{X: 500, Y: 500}, Radius: ptr(c.r1)})
		w.Join(JoinRequest{ClientID: "small", Position: &Vec2{X: 501, Y: 500}, Radius: ptr(c.r2)})
		w.Step()
		big, ok := w.Player("big")
		if !ok {
			t.Fatalf("r1=%v r2=%v: absorber missing", c.r1, c.r2)
		}
		want := math.Sqrt(c.r1*c.r1 + 0.5*c.r2*c.r2)
		if math.Abs(big.Radius-want) > eps {
			t.Fatalf("r1=%v r2=%v: radius = %v, want %v", c.r1, c.r2, big.Radius, want)
		}
		if _, ok := w.Player("small"); ok {
			t.Fatalf("r1=%v r2=%v: absorbed player still present", c.r1, c.r2)
		}
	}
}

func TestStepNearTieLeavesBothUntouched(t *testing.T) {
	w := newTestWorld(t, nil)
	w.Join(JoinRequest{ClientID: "a", Position: &Vec2{X: 300, Y: 300}, Radius: ptr(20.0)})
	w.Join(JoinRequest{ClientID: "b", Position: &Vec2{X: 305, Y: 300}, Radius: ptr(20.9)})

	res := w.Step()

	if len(res.Absorbed) != 0 {
		t.Fatalf("near tie produced absorption: %+v", res.Absorbed)
	}
	a, _ := w.Player("a")
	b, _ := w.Player("b")
	if a.Radius != 20 || b.Radius != 20.9 || a.Score != 0 || b.Score != 0 {
		t.Fatalf("near tie changed state: a=%+v b=%+v", a, b)
	}
}

func TestStepEqualRadiiNeverAbsorbWithoutThreshold(t *testing.T) {
	w := newTestWorld(t, func(c *Config) { c.GrowthThreshold = 0 })
	w.Join(JoinRequest{ClientID: "a", Position: &Vec2{X: 300, Y: 300}, Radius: ptr(20.0)})
	w.Join(JoinRequest{ClientID: "b", Position: &Vec2{X: 301, Y: 300}, Radius: ptr(20.0)})
	if res := w.Step(); len(res.Absorbed) != 0 {
		t.Fatalf("equal radii absorbed: %+v", res.Absorbed)
	}
}

func TestStepRemovedPlayerNotReconsidered(t *testing.T) {
	w := newTestWorld(t, nil)
	// small 先被 mid 吞噬，之后不能再被 big 吞噬
	w.Join(JoinRequest{ClientID: "small", Position: &Vec2{X: 400, Y: 400}, Radius: ptr(10.0)})
	w.Join(JoinRequest{ClientID: "mid", Position: &Vec2{X: 405, Y: 400}, Radius: ptr(15.0)})
	w.Join(JoinRequest{ClientID: "big", Position: &Vec2{X: 395, Y: 400}, Radius: ptr(40.0)})

	res := w.Step()

	seen := map[string]int{}
	for _, ev := range res.Absorbed {
		seen[ev.Victim.ClientID]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Fatalf("%s absorbed %d times", id, n)
		}
	}
	if w.PlayerCount() != 1 {
		t.Fatalf("player count = %d, want 1", w.PlayerCount())
	}
	if _, ok := w.Player("big"); !ok {
		t.Fatalf("big player should survive")
	}
}

func TestStepClampsToWorldBounds(t *testing.T) {
	w := newTestWorld(t, nil)
	w.Join(JoinRequest{ClientID: "a", Position: &Vec2{X: 1975, Y: 25}, Radius: ptr(20.0)})
	_ = w.Move("a", 7, -7)

	w.Step()

	p, _ := w.Player("a")
	if p.Pos.X != 1980 || p.Pos.Y != 20 {
		t.Fatalf("pos = %+v, want clamped to {1980 20}", p.Pos)
	}
	if !w.Grid().Has(w.Grid().CellKeyOf(p.Pos.X, p.Pos.Y), KindPlayer, p.ID) {
		t.Fatalf("grid not updated after clamp")
	}
}

func TestStepSpawnsOneFoodPerTick(t *testing.T) {
	w := newTestWorld(t, func(c *Config) { c.MaxFood = 100 })

	res := w.Step()

	if res.FoodSpawned != 1 || w.FoodCount() != 1 {
		t.Fatalf("food after one tick = %d (spawned %d), want 1", w.FoodCount(), res.FoodSpawned)
	}
	f := w.Food()[0]
	cells := w.Grid().Locate(KindFood, f.ID)
	if len(cells) != 1 || cells[0] != w.Grid().CellKeyOf(f.Pos.X, f.Pos.Y) {
		t.Fatalf("food cells = %v, want its own cell", cells)
	}
}

func TestStepFoodNeverExceedsCap(t *testing.T) {
	w := newTestWorld(t, func(c *Config) { c.MaxFood = 3 })
	for i := 0; i < 10; i++ {
		w.Step()
	}
	if w.FoodCount() != 3 {
		t.Fatalf("food count = %d, want 3", w.FoodCount())
	}
}

func TestStepPlayerEatsFood(t *testing.T) {
	w := newTestWorld(t, nil)
	w.Join(JoinRequest{ClientID: "a", Position: &Vec2{X: 600, Y: 600}, Radius: ptr(20.0)})
	f := w.AddFood(Vec2{X: 610, Y: 600})
	far := w.AddFood(Vec2{X: 700, Y: 600})
	w.DrainDirty()

	res := w.Step()

	if res.FoodEaten != 1 {
		t.Fatalf("food eaten = %d, want 1", res.FoodEaten)
	}
	p, _ := w.Player("a")
	want := math.Sqrt(20*20 + 0.5*f.Radius*f.Radius)
	if math.Abs(p.Radius-want) > eps || p.Score != 1 {
		t.Fatalf("player after eating: radius=%v score=%d, want %v 1", p.Radius, p.Score, want)
	}
	if _, ok := w.foodByID(f.ID); ok {
		t.Fatalf("eaten food still in store")
	}
	if len(w.Grid().Locate(KindFood, f.ID)) != 0 {
		t.Fatalf("eaten food still indexed")
	}
	if _, ok := w.foodByID(far.ID); !ok {
		t.Fatalf("distant food eaten")
	}
	if ids := w.DrainDirty(); len(ids) != 1 {
		t.Fatalf("grown player not dirty: %v", ids)
	}
}

func TestStepSmallMovesStayClean(t *testing.T) {
	w := newTestWorld(t, nil)
	w.Join(JoinRequest{ClientID: "a", Position: &Vec2{X: 600, Y: 600}})
	w.DrainDirty()
	_ = w.Move("a", 0.3, 0)

	w.Step()
	if ids := w.DrainDirty(); len(ids) != 0 {
		t.Fatalf("sub-epsilon move marked dirty: %v", ids)
	}
	w.Step()
	w.Step()
	w.Step()
	if ids := w.DrainDirty(); len(ids) != 1 {
		t.Fatalf("accumulated move not dirty: %v", ids)
	}
}

func TestStepKeepsIndexConsistent(t *testing.T) {
	w := NewWorld(Config{
		WorldWidth: 1000, WorldHeight: 800, CellSize: 100, MaxFood: 50,
	}, WithRand(rand.New(rand.NewSource(7))))
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 40; i++ {
		id := string(rune('A' + i))
		w.Join(JoinRequest{ClientID: id, Radius: ptr(5 + rng.Float64()*30)})
		_ = w.Move(id, rng.Float64()*20-10, rng.Float64()*20-10)
	}

	for tick := 0; tick < 200; tick++ {
		w.Step()
		if tick%25 == 0 {
			for _, p := range w.Players() {
				_ = w.Move(p.ClientID, rng.Float64()*20-10, rng.Float64()*20-10)
			}
		}

		for _, p := range w.Players() {
			if p.Radius <= 0 {
				t.Fatalf("tick %d: player %s radius %v", tick, p.ClientID, p.Radius)
			}
			cells := w.Grid().Locate(KindPlayer, p.ID)
			if len(cells) != 1 || cells[0] != w.Grid().CellKeyOf(p.Pos.X, p.Pos.Y) {
				t.Fatalf("tick %d: player %s cells %v, pos %+v", tick, p.ClientID, cells, p.Pos)
			}
		}
		for _, f := range w.Food() {
			cells := w.Grid().Locate(KindFood, f.ID)
			if len(cells) != 1 || cells[0] != w.Grid().CellKeyOf(f.Pos.X, f.Pos.Y) {
				t.Fatalf("tick %d: food %d cells %v", tick, f.ID, cells)
			}
		}
		if w.Grid().Count(KindPlayer) != w.PlayerCount() || w.Grid().Count(KindFood) != w.FoodCount() {
			t.Fatalf("tick %d: grid counts (%d,%d) != store (%d,%d)", tick,
				w.Grid().Count(KindPlayer), w.Grid().Count(KindFood), w.PlayerCount(), w.FoodCount())
		}
	}
}
