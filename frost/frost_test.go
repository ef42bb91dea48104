package frost

import (
	"math/big"
	"testing"

	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/internal/testutils"
)

func generateGroup(t *testing.T, n, threshold int) (curve.Point, []*big.Int) {
	t.Helper()
	secret := curve.SampleScalar()
	shares := testutils.GenerateKeyShares(secret, n, threshold, curve.Order)
	groupKey := curve.EcBaseMul(secret)
	return groupKey, shares
}

func TestFrostSignRoundTrip(t *testing.T) {
	const n = 3
	const threshold = 2

	groupKey, shares := generateGroup(t, n, threshold)

	signers := make([]*Signer, n)
	for i := 0; i < n; i++ {
		signers[i] = &Signer{
			Index:          ShareIndex(i + 1),
			SecretKeyShare: shares[i],
			GroupPublicKey: groupKey,
		}
	}

	// only the first `threshold` signers participate.
	active := signers[:threshold]

	message := []byte("send 0.01 BTC to bc1p...")

	nonces := make([]SignerNonces, len(active))
	commitments := make([]NonceCommitment, len(active))
	for i, s := range active {
		n := SignerNonces{Hiding: curve.SampleScalar(), Binding: curve.SampleScalar()}
		hc, bc := Round1(n)
		nonces[i] = n
		commitments[i] = NonceCommitment{Signer: s.Index, Hiding: hc, Binding: bc}
	}

	shares2 := make([]*big.Int, len(active))
	for i, s := range active {
		share, err := s.Round2(message, nonces[i], commitments)
		if err != nil {
			t.Fatalf("signer %d round2 failed: %v", s.Index, err)
		}
		shares2[i] = share
	}

	sig, err := Aggregate(groupKey, message, commitments, shares2)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	if !VerifySignature(groupKey, message, sig) {
		t.Fatalf("aggregated signature did not verify")
	}
}

func TestFrostSignWrongCommitmentOrderFails(t *testing.T) {
	groupKey, shares := generateGroup(t, 3, 2)
	signer := &Signer{Index: 1, SecretKeyShare: shares[0], GroupPublicKey: groupKey}

	n1 := SignerNonces{Hiding: curve.SampleScalar(), Binding: curve.SampleScalar()}
	n2 := SignerNonces{Hiding: curve.SampleScalar(), Binding: curve.SampleScalar()}
	hc1, bc1 := Round1(n1)
	hc2, bc2 := Round1(n2)

	// deliberately out of ascending order.
	commitments := []NonceCommitment{
		{Signer: 2, Hiding: hc2, Binding: bc2},
		{Signer: 1, Hiding: hc1, Binding: bc1},
	}

	_, err := signer.Round2([]byte("msg"), n1, commitments)
	if err == nil {
		t.Fatalf("expected an error for unsorted commitment list")
	}
}

func TestDeriveInterpolatingValueLagrangeIdentity(t *testing.T) {
	participants := []ShareIndex{1, 2, 3}
	sum := big.NewInt(0)
	for _, p := range participants {
		lambda := DeriveInterpolatingValue(p, participants)
		sum.Add(sum, lambda)
	}
	sum.Mod(sum, curve.Order)
	// sum of Lagrange coefficients evaluated at x=0 for polynomial
	// interpolation must be 1 -- this is what lets Round2's per-signer
	// partial sums add up to the secret key at the end.
	testutils.AssertBigIntsEqual(t, "sum of lagrange coefficients", big.NewInt(1), sum)
}
