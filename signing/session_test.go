package signing

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/wire"

	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/frost"
	"github.com/frostsnap/engine/internal/testutils"
	"github.com/frostsnap/engine/signtask"
)

func zeroTask(t *testing.T) signtask.Task {
	t.Helper()
	return signtask.Task{Tx: wire.NewMsgTx(2)}
}

func setupGroup(t *testing.T, n, threshold int) (curve.Point, map[frost.ShareIndex]*big.Int, map[frost.ShareIndex]curve.Point) {
	t.Helper()
	secret := curve.SampleScalar()
	shares := testutils.GenerateKeyShares(secret, n, threshold, curve.Order)
	groupKey := curve.EcBaseMul(secret)

	secretShares := make(map[frost.ShareIndex]*big.Int)
	verificationShares := make(map[frost.ShareIndex]curve.Point)
	for i := 0; i < n; i++ {
		idx := frost.ShareIndex(i + 1)
		secretShares[idx] = shares[i]
		verificationShares[idx] = curve.EcBaseMul(shares[i])
	}
	return groupKey, secretShares, verificationShares
}

func TestSessionSingleInputHappyPath(t *testing.T) {
	groupKey, secretShares, verificationShares := setupGroup(t, 3, 2)
	sigHash := [32]byte{1, 2, 3}

	session := NewSession([32]byte{9}, zeroTask(t), 2, groupKey, verificationShares, [][32]byte{sigHash})

	active := []frost.ShareIndex{1, 2}
	nonces := map[frost.ShareIndex]frost.SignerNonces{}
	for _, idx := range active {
		n := frost.SignerNonces{Hiding: curve.SampleScalar(), Binding: curve.SampleScalar()}
		hc, bc := frost.Round1(n)
		nonces[idx] = n
		if err := session.OfferNonces(idx, []frost.NonceCommitment{{Signer: idx, Hiding: hc, Binding: bc}}); err != nil {
			t.Fatalf("OfferNonces(%d): %v", idx, err)
		}
	}

	if session.State != NoncesAllocated {
		t.Fatalf("expected NoncesAllocated, got %v", session.State)
	}

	for _, idx := range active {
		s := &frost.Signer{Index: idx, SecretKeyShare: secretShares[idx], GroupPublicKey: groupKey}
		sh, err := s.Round2(sigHash[:], nonces[idx], session.CommitmentsFor(0))
		if err != nil {
			t.Fatalf("Round2(%d): %v", idx, err)
		}
		if err := session.ReceiveShare(idx, 0, sh); err != nil {
			t.Fatalf("ReceiveShare(%d): %v", idx, err)
		}
	}

	if session.State != Finalising {
		t.Fatalf("expected Finalising, got %v", session.State)
	}

	sigs, err := session.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signature, got %d", len(sigs))
	}
	if !frost.VerifySignature(groupKey, sigHash[:], sigs[0]) {
		t.Fatalf("finalized signature did not verify")
	}
}

func TestSessionAbortsOnBadShare(t *testing.T) {
	groupKey, secretShares, verificationShares := setupGroup(t, 3, 2)
	sigHash := [32]byte{7}

	session := NewSession([32]byte{1}, zeroTask(t), 2, groupKey, verificationShares, [][32]byte{sigHash})

	n1 := frost.SignerNonces{Hiding: curve.SampleScalar(), Binding: curve.SampleScalar()}
	hc1, bc1 := frost.Round1(n1)
	if err := session.OfferNonces(1, []frost.NonceCommitment{{Signer: 1, Hiding: hc1, Binding: bc1}}); err != nil {
		t.Fatal(err)
	}
	n2 := frost.SignerNonces{Hiding: curve.SampleScalar(), Binding: curve.SampleScalar()}
	hc2, bc2 := frost.Round1(n2)
	if err := session.OfferNonces(2, []frost.NonceCommitment{{Signer: 2, Hiding: hc2, Binding: bc2}}); err != nil {
		t.Fatal(err)
	}

	signer1 := &frost.Signer{Index: 1, SecretKeyShare: secretShares[1], GroupPublicKey: groupKey}
	sh1, err := signer1.Round2(sigHash[:], n1, session.CommitmentsFor(0))
	if err != nil {
		t.Fatal(err)
	}
	if err := session.ReceiveShare(1, 0, sh1); err != nil {
		t.Fatalf("ReceiveShare(1): %v", err)
	}

	// signer 2 sends a bogus share.
	bogus := big.NewInt(12345)
	err = session.ReceiveShare(2, 0, bogus)
	if err == nil {
		t.Fatalf("expected bogus share to be rejected")
	}

	if session.State != Aborted {
		t.Fatalf("expected session to abort, got %v", session.State)
	}

	// the session is dead: further messages are rejected rather than
	// reopening a window for a replacement signer.
	if err := session.ReceiveShare(1, 0, sh1); err == nil {
		t.Fatalf("expected aborted session to reject further shares")
	}
}
