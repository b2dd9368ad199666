package payout

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/poolstake/backend/internal/models"
)

var tenPercent = decimal.RequireFromString("0.10")

func stake(option uuid.UUID, amount int64) Stake {
	return Stake{EntryID: uuid.New(), UserID: uuid.New(), OptionID: option, Amount: amount}
}

func TestCompute_ReferenceScenario(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	stakes := []Stake{
		stake(a, 300), stake(a, 700), stake(a, 2000),
		stake(b, 5000), stake(b, 2000),
	}

	res, err := Compute(Input{Stakes: stakes, WinningOptionID: a, CompanyCutPercent: tenPercent})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.TotalPool != 10000 {
		t.Errorf("total_pool: got %d, want 10000", res.TotalPool)
	}
	if res.CompanyCut != 1000 {
		t.Errorf("company_cut: got %d, want 1000", res.CompanyCut)
	}
	if res.DistributablePool != 9000 {
		t.Errorf("distributable_pool: got %d, want 9000", res.DistributablePool)
	}
	if res.Lines[0].Payout != 900 {
		t.Errorf("payout for 300 stake: got %d, want 900", res.Lines[0].Payout)
	}
	if res.WinnersCount != 3 || res.LosersCount != 2 {
		t.Errorf("winners/losers: got %d/%d, want 3/2", res.WinnersCount, res.LosersCount)
	}
	for _, l := range res.Lines[3:] {
		if l.Won || l.Payout != 0 {
			t.Errorf("entry on B should lose with 0 payout, got won=%v payout=%d", l.Won, l.Payout)
		}
	}
	if res.TotalPayout != 9000 || res.Remainder != 0 {
		t.Errorf("total_payout=%d remainder=%d, want 9000/0", res.TotalPayout, res.Remainder)
	}
}

func TestCompute_NoWinners(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	tests := []struct {
		name       string
		stakes     []Stake
		eliminated map[uuid.UUID]bool
		winner     uuid.UUID
		bonus      int64
		wantForfit int64
	}{
		{
			name:       "nobody staked on winner",
			stakes:     []Stake{stake(b, 4000), stake(c, 6000)},
			winner:     a,
			wantForfit: 9000,
		},
		{
			name:       "winner eliminated",
			stakes:     []Stake{stake(a, 1000), stake(b, 4000)},
			eliminated: map[uuid.UUID]bool{a: true},
			winner:     a,
			wantForfit: 3600 + 1000,
		},
		{
			name:       "empty pool with bonus",
			winner:     a,
			bonus:      5000,
			wantForfit: 5000,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Compute(Input{
				Stakes:            tc.stakes,
				Eliminated:        tc.eliminated,
				WinningOptionID:   tc.winner,
				CompanyCutPercent: tenPercent,
				RolloverBonus:     tc.bonus,
			})
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}
			if !res.NoWinners() {
				t.Fatalf("expected no winners, got %d", res.WinnersCount)
			}
			if res.TotalPayout != 0 {
				t.Errorf("total_payout: got %d, want 0", res.TotalPayout)
			}
			if res.LosersCount != len(tc.stakes) {
				t.Errorf("losers: got %d, want %d", res.LosersCount, len(tc.stakes))
			}
			if got := res.RolloverInflow(); got != tc.wantForfit {
				t.Errorf("rollover inflow: got %d, want %d", got, tc.wantForfit)
			}
		})
	}
}

func TestCompute_EliminatedOptionsExcludedAndLost(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	stakes := []Stake{stake(a, 1000), stake(b, 3000), stake(c, 6000)}

	res, err := Compute(Input{
		Stakes:            stakes,
		Eliminated:        map[uuid.UUID]bool{c: true},
		WinningOptionID:   a,
		CompanyCutPercent: tenPercent,
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.TotalPool != 4000 {
		t.Errorf("total_pool: got %d, want 4000", res.TotalPool)
	}
	if res.ForfeitedStake != 6000 {
		t.Errorf("forfeited stake: got %d, want 6000", res.ForfeitedStake)
	}
	if res.Lines[2].Won {
		t.Error("entry on eliminated option must lose")
	}
	if res.Lines[0].Payout != 3600 {
		t.Errorf("winner payout: got %d, want 3600", res.Lines[0].Payout)
	}
}

func TestCompute_RolloverBonusAddsToDistributable(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	res, err := Compute(Input{
		Stakes:            []Stake{stake(a, 1000), stake(b, 1000)},
		WinningOptionID:   a,
		CompanyCutPercent: tenPercent,
		RolloverBonus:     500,
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.DistributablePool != 2300 {
		t.Errorf("distributable_pool: got %d, want 2300", res.DistributablePool)
	}
	if res.TotalPayout != 2300 {
		t.Errorf("total_payout: got %d, want 2300", res.TotalPayout)
	}
	if res.CompanyCut+res.DistributablePool != res.TotalPool+500 {
		t.Error("cut + distributable must equal total + bonus")
	}
}

func TestCompute_RoundingRemainder(t *testing.T) {
	a := uuid.New()
	// 3 equal winners over 1000 distributable: 333 each, remainder 1.
	res, err := Compute(Input{
		Stakes:            []Stake{stake(a, 100), stake(a, 100), stake(a, 100), stake(uuid.New(), 700)},
		WinningOptionID:   a,
		CompanyCutPercent: decimal.Zero,
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for _, l := range res.Lines[:3] {
		if l.Payout != 333 {
			t.Errorf("payout: got %d, want 333", l.Payout)
		}
	}
	if res.Remainder != 1 {
		t.Errorf("remainder: got %d, want 1", res.Remainder)
	}
	if res.RolloverInflow() != 1 {
		t.Errorf("rollover inflow: got %d, want 1", res.RolloverInflow())
	}
}

func TestCompanyCut_RoundsHalfUp(t *testing.T) {
	tests := []struct {
		total int64
		pct   string
		want  int64
	}{
		{10000, "0.10", 1000},
		{15, "0.10", 2},  // 1.5
		{14, "0.10", 1},  // 1.4
		{25, "0.05", 1},  // 1.25
		{0, "0.10", 0},
		{999, "0", 0},
		{1001, "0.125", 125}, // 125.125
	}
	for _, tc := range tests {
		got := CompanyCut(tc.total, decimal.RequireFromString(tc.pct))
		if got != tc.want {
			t.Errorf("CompanyCut(%d, %s): got %d, want %d", tc.total, tc.pct, got, tc.want)
		}
	}
}

func TestShare_LargeAmountsDoNotOverflow(t *testing.T) {
	// distributable * amount exceeds int64.
	got := Share(9_000_000_000_000, 3_000_000_000_000, 9_000_000_000_000)
	if got != 3_000_000_000_000 {
		t.Errorf("got %d", got)
	}
}

func TestCompute_InvalidInput(t *testing.T) {
	a := uuid.New()
	cases := []struct {
		name string
		in   Input
	}{
		{"percent one", Input{WinningOptionID: a, CompanyCutPercent: decimal.NewFromInt(1)}},
		{"negative percent", Input{WinningOptionID: a, CompanyCutPercent: decimal.RequireFromString("-0.1")}},
		{"zero stake", Input{Stakes: []Stake{stake(a, 0)}, WinningOptionID: a, CompanyCutPercent: tenPercent}},
		{"negative bonus", Input{WinningOptionID: a, CompanyCutPercent: tenPercent, RolloverBonus: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compute(tc.in)
			if !errors.Is(err, models.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

// Randomised checks of the conservation and rounding bounds.
func TestCompute_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		opts := make([]uuid.UUID, 2+rng.Intn(4))
		for i := range opts {
			opts[i] = uuid.New()
		}
		eliminated := map[uuid.UUID]bool{}
		if rng.Intn(3) == 0 {
			eliminated[opts[rng.Intn(len(opts))]] = true
		}
		var stakes []Stake
		for n := rng.Intn(30); n > 0; n-- {
			stakes = append(stakes, stake(opts[rng.Intn(len(opts))], int64(500+rng.Intn(100000))))
		}
		in := Input{
			Stakes:            stakes,
			Eliminated:        eliminated,
			WinningOptionID:   opts[rng.Intn(len(opts))],
			CompanyCutPercent: decimal.New(int64(rng.Intn(30)), -2),
		}

		res, err := Compute(in)
		if err != nil {
			t.Fatalf("iter %d: %v", iter, err)
		}

		var eligible int64
		for _, s := range stakes {
			if !eliminated[s.OptionID] {
				eligible += s.Amount
			}
		}
		if res.TotalPool != eligible {
			t.Fatalf("iter %d: total_pool %d != eligible stakes %d", iter, res.TotalPool, eligible)
		}
		if res.CompanyCut+res.DistributablePool != res.TotalPool {
			t.Fatalf("iter %d: cut %d + distributable %d != total %d", iter, res.CompanyCut, res.DistributablePool, res.TotalPool)
		}
		if res.WinnersCount > 0 {
			if res.TotalPayout > res.DistributablePool {
				t.Fatalf("iter %d: overpaid %d > %d", iter, res.TotalPayout, res.DistributablePool)
			}
			if res.Remainder >= int64(res.WinnersCount) {
				t.Fatalf("iter %d: remainder %d >= winners %d", iter, res.Remainder, res.WinnersCount)
			}
		}
		if res.CompanyCut+res.TotalPayout+res.RolloverInflow() != res.TotalPool+res.ForfeitedStake {
			t.Fatalf("iter %d: funds not conserved", iter)
		}

		// Order independence.
		shuffled := append([]Stake(nil), stakes...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		in.Stakes = shuffled
		res2, err := Compute(in)
		if err != nil {
			t.Fatalf("iter %d: %v", iter, err)
		}
		if res2.TotalPool != res.TotalPool || res2.TotalPayout != res.TotalPayout || res2.WinnersCount != res.WinnersCount {
			t.Fatalf("iter %d: result depends on entry order", iter)
		}
	}
}
