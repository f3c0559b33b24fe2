package lending

import (
	"math/big"
	"testing"
)

func TestUtilisationClampsToUnitRange(t *testing.T) {
	model := DefaultInterestModel

	if u := model.Utilisation(big.NewInt(0), big.NewInt(1000)); u.Sign() != 0 {
		t.Fatalf("expected zero utilisation, got %s", u.RatString())
	}
	if u := model.Utilisation(big.NewInt(500), big.NewInt(0)); u.Sign() != 0 {
		t.Fatalf("expected zero utilisation with empty pool, got %s", u.RatString())
	}
	if u := model.Utilisation(big.NewInt(500), big.NewInt(1000)); u.Cmp(big.NewRat(1, 2)) != 0 {
		t.Fatalf("unexpected utilisation: %s", u.RatString())
	}
	// Borrowed above supplied clamps to 1 rather than exceeding it.
	if u := model.Utilisation(big.NewInt(1500), big.NewInt(1000)); u.Cmp(big.NewRat(1, 1)) != 0 {
		t.Fatalf("expected clamped utilisation, got %s", u.RatString())
	}
}

func TestBorrowRateKinkedCurve(t *testing.T) {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   big.NewRat(4, 100),
		Slope2:   big.NewRat(60, 100),
		Kink:     big.NewRat(80, 100),
	}

	// At the kink the full slope1 applies: 0 + 0.04.
	atKink := model.BorrowRate(big.NewRat(80, 100))
	if atKink.Cmp(big.NewRat(4, 100)) != 0 {
		t.Fatalf("unexpected rate at kink: %s", atKink.RatString())
	}

	// Halfway below the kink only half of slope1 applies.
	below := model.BorrowRate(big.NewRat(40, 100))
	if below.Cmp(big.NewRat(2, 100)) != 0 {
		t.Fatalf("unexpected rate below kink: %s", below.RatString())
	}

	// At 90% utilisation the excess (0.9-0.8)/(1-0.8) = 0.5 of slope2 is
	// added: 0.04 + 0.5*0.60 = 0.34.
	above := model.BorrowRate(big.NewRat(90, 100))
	if above.Cmp(big.NewRat(34, 100)) != 0 {
		t.Fatalf("unexpected rate above kink: %s", above.RatString())
	}

	// Full utilisation pays the whole curve: 0.04 + 0.60.
	full := model.BorrowRate(big.NewRat(1, 1))
	if full.Cmp(big.NewRat(64, 100)) != 0 {
		t.Fatalf("unexpected rate at full utilisation: %s", full.RatString())
	}
}

func TestBorrowRateDegenerateKinks(t *testing.T) {
	zeroKink := &InterestModel{
		BaseRate: big.NewRat(1, 100),
		Slope1:   big.NewRat(10, 100),
		Slope2:   big.NewRat(50, 100),
		Kink:     new(big.Rat),
	}
	// Whole range rides slope2: 0.01 + 0.5*0.5.
	if rate := zeroKink.BorrowRate(big.NewRat(1, 2)); rate.Cmp(big.NewRat(26, 100)) != 0 {
		t.Fatalf("unexpected zero-kink rate: %s", rate.RatString())
	}

	fullKink := &InterestModel{
		BaseRate: big.NewRat(1, 100),
		Slope1:   big.NewRat(10, 100),
		Slope2:   big.NewRat(50, 100),
		Kink:     big.NewRat(1, 1),
	}
	// Slope2 never engages when the kink sits at 100% utilisation.
	if rate := fullKink.BorrowRate(big.NewRat(1, 1)); rate.Cmp(big.NewRat(11, 100)) != 0 {
		t.Fatalf("unexpected full-kink rate: %s", rate.RatString())
	}
}

func TestBorrowRateMonotonicInUtilisation(t *testing.T) {
	model := &InterestModel{
		BaseRate: big.NewRat(2, 100),
		Slope1:   big.NewRat(15, 100),
		Slope2:   big.NewRat(60, 100),
		Kink:     big.NewRat(80, 100),
	}
	previous := new(big.Rat).Neg(big.NewRat(1, 1))
	for step := int64(0); step <= 20; step++ {
		rate := model.BorrowRate(big.NewRat(step, 20))
		if rate.Cmp(previous) < 0 {
			t.Fatalf("borrow rate decreased at utilisation %d/20: %s < %s", step, rate.RatString(), previous.RatString())
		}
		previous = rate
	}
}

func TestSupplyRateAppliesReserveFactor(t *testing.T) {
	model := flatRateModel(10, 100)
	utilisation := big.NewRat(1, 2)

	// No reserve factor: 0.10 * 0.5.
	gross := model.SupplyRate(utilisation, 0)
	if gross.Cmp(big.NewRat(5, 100)) != 0 {
		t.Fatalf("unexpected gross supply rate: %s", gross.RatString())
	}

	// 20% reserve factor: 0.10 * 0.5 * 0.8.
	net := model.SupplyRate(utilisation, 2000)
	if net.Cmp(big.NewRat(4, 100)) != 0 {
		t.Fatalf("unexpected net supply rate: %s", net.RatString())
	}

	if rate := model.SupplyRate(new(big.Rat), 2000); rate.Sign() != 0 {
		t.Fatalf("expected zero supply rate at zero utilisation, got %s", rate.RatString())
	}
}
