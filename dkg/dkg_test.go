package dkg

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/frostsnap/engine/bip340"
	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/frost"
	"github.com/frostsnap/engine/internal/testutils"
)

func TestTwoOfThreeKeygenRoundTrip(t *testing.T) {
	indices := []frost.ShareIndex{1, 2, 3}
	threshold := 2

	longTermSecrets := make(map[frost.ShareIndex]*big.Int)
	longTermKeys := make(map[frost.ShareIndex]curve.Point)
	for _, idx := range indices {
		sk := curve.SampleScalar()
		longTermSecrets[idx] = sk
		longTermKeys[idx] = curve.EcBaseMul(sk)
	}

	contributions := make(map[frost.ShareIndex]Contribution)
	rawSharesByContributor := make(map[frost.ShareIndex]map[frost.ShareIndex]*big.Int)
	for _, idx := range indices {
		c, rawShares, err := BeginKeygen(idx, threshold, longTermKeys, longTermSecrets[idx], rand.Reader)
		if err != nil {
			t.Fatalf("BeginKeygen(%d): %v", idx, err)
		}
		contributions[idx] = c
		rawSharesByContributor[idx] = rawShares
	}

	// every participant builds an identical transcript from the
	// coordinator-relayed contributions.
	transcripts := make(map[frost.ShareIndex]*Transcript)
	for _, idx := range indices {
		tr := NewTranscript(threshold, longTermKeys)
		for _, contributor := range indices {
			if err := tr.Add(contributions[contributor]); err != nil {
				t.Fatalf("participant %d: Add(%d): %v", idx, contributor, err)
			}
		}
		transcripts[idx] = tr
	}

	sessionHash := transcripts[indices[0]].SessionHash()
	for _, idx := range indices {
		if transcripts[idx].SessionHash() != sessionHash {
			t.Fatalf("participant %d computed a different session hash", idx)
		}
	}

	secretShares := make(map[frost.ShareIndex]*big.Int)
	var verificationShares map[frost.ShareIndex]curve.Point
	var groupKey curve.Point
	for _, idx := range indices {
		selfRaw := map[frost.ShareIndex]*big.Int{idx: rawSharesByContributor[idx][idx]}
		sk, gk, vshares, err := transcripts[idx].AggregateShares(idx, longTermSecrets[idx], selfRaw)
		if err != nil {
			t.Fatalf("participant %d: AggregateShares: %v", idx, err)
		}
		secretShares[idx] = sk
		verificationShares = vshares
		groupKey = gk
	}

	confirmations := make(map[frost.ShareIndex]bip340.Signature)
	for _, idx := range indices {
		sig, err := ConfirmationSignature(longTermSecrets[idx], sessionHash)
		if err != nil {
			t.Fatalf("ConfirmationSignature(%d): %v", idx, err)
		}
		confirmations[idx] = sig
	}
	if err := Finalize(sessionHash, confirmations, longTermKeys); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// a 2-of-3 signing round trip using the keys just produced exercises
	// the Feldman verification equation end to end.
	active := indices[:threshold]
	signers := make([]*frost.Signer, 0, len(active))
	for _, idx := range active {
		signers = append(signers, &frost.Signer{Index: idx, SecretKeyShare: secretShares[idx], GroupPublicKey: groupKey})
	}

	message := []byte("2-of-3 dkg smoke test")
	nonces := make([]frost.SignerNonces, len(signers))
	commitments := make([]frost.NonceCommitment, len(signers))
	for i, s := range signers {
		n := frost.SignerNonces{Hiding: curve.SampleScalar(), Binding: curve.SampleScalar()}
		hc, bc := frost.Round1(n)
		nonces[i] = n
		commitments[i] = frost.NonceCommitment{Signer: s.Index, Hiding: hc, Binding: bc}
	}

	shares := make([]*big.Int, len(signers))
	for i, s := range signers {
		sh, err := s.Round2(message, nonces[i], commitments)
		if err != nil {
			t.Fatalf("Round2(%d): %v", s.Index, err)
		}
		shares[i] = sh
		ok, err := frost.VerifyShare(verificationShares[s.Index], groupKey, message, commitments, s.Index, sh)
		if err != nil {
			t.Fatalf("VerifyShare(%d): %v", s.Index, err)
		}
		testutils.AssertBoolsEqual(t, "verification share check", true, ok)
	}

	sig, err := frost.Aggregate(groupKey, message, commitments, shares)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !frost.VerifySignature(groupKey, message, sig) {
		t.Fatalf("signature produced from dkg-derived shares failed to verify")
	}
}

func TestFinalizeRejectsSubstitutedPolynomial(t *testing.T) {
	indices := []frost.ShareIndex{1, 2}
	threshold := 2

	longTermSecrets := make(map[frost.ShareIndex]*big.Int)
	longTermKeys := make(map[frost.ShareIndex]curve.Point)
	for _, idx := range indices {
		sk := curve.SampleScalar()
		longTermSecrets[idx] = sk
		longTermKeys[idx] = curve.EcBaseMul(sk)
	}

	contribs := make(map[frost.ShareIndex]Contribution)
	for _, idx := range indices {
		c, _, err := BeginKeygen(idx, threshold, longTermKeys, longTermSecrets[idx], rand.Reader)
		if err != nil {
			t.Fatalf("BeginKeygen: %v", err)
		}
		contribs[idx] = c
	}

	trHonest := NewTranscript(threshold, longTermKeys)
	trTampered := NewTranscript(threshold, longTermKeys)
	for _, idx := range indices {
		if err := trHonest.Add(contribs[idx]); err != nil {
			t.Fatal(err)
		}
		if err := trTampered.Add(contribs[idx]); err != nil {
			t.Fatal(err)
		}
	}

	// the coordinator substitutes participant 2's commitment as seen by
	// participant 1, without being able to forge participant 2's PoP over
	// the substituted value -- Add must reject it outright.
	tampered := contribs[2]
	tampered.Commitment = append([]curve.Point{}, tampered.Commitment...)
	tampered.Commitment[0] = curve.EcBaseMul(curve.SampleScalar())

	if err := trTampered.Add(tampered); err == nil {
		t.Fatalf("expected tampered contribution with invalid PoP to be rejected")
	}
}
