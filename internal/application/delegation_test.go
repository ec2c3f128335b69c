package application

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shugur-Network/lens/internal/models"
	"github.com/Shugur-Network/lens/internal/store"
)

// signDelegation produces a valid NIP-26 delegation tag from a fresh master
// key authorizing delegatePub under conditions.
func signDelegation(t *testing.T, delegatePub, conditions string) (masterPub string, tag nostr.Tag) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	token := []byte("nostr:delegation:" + delegatePub + ":" + conditions)
	h := sha256.Sum256(token)
	sig, err := schnorr.Sign(priv, h[:])
	require.NoError(t, err)

	masterPub = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	tag = nostr.Tag{"delegation", masterPub, conditions, hex.EncodeToString(sig.Serialize())}
	return masterPub, tag
}

func delegatedEvent(t *testing.T, conditions string, kind int, createdAt nostr.Timestamp) *nostr.Event {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pub, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	_, tag := signDelegation(t, pub, conditions)
	evt := &nostr.Event{
		Kind:      kind,
		CreatedAt: createdAt,
		Content:   "delegated",
		Tags:      nostr.Tags{tag},
	}
	require.NoError(t, evt.Sign(sk))
	return evt
}

func TestDelegationOfAbsent(t *testing.T) {
	evt := signedEvent(t, nostr.KindTextNote, "plain")
	assert.Nil(t, delegationOf(evt))
}

func TestVerifyDelegationValid(t *testing.T) {
	conditions := fmt.Sprintf("kind=1&created_at>%d", nostr.Now()-3600)
	evt := delegatedEvent(t, conditions, nostr.KindTextNote, nostr.Now())

	del := delegationOf(evt)
	require.NotNil(t, del)
	assert.NoError(t, verifyDelegation(evt, del))
}

func TestVerifyDelegationRejectsForgedSignature(t *testing.T) {
	evt := delegatedEvent(t, "kind=1", nostr.KindTextNote, nostr.Now())
	del := delegationOf(evt)
	require.NotNil(t, del)

	// A token signed for a different delegatee.
	otherPub, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	_, forged := signDelegation(t, otherPub, del.Conditions)
	del.Sig = forged[3]
	del.MasterPubkey = forged[1]
	assert.Error(t, verifyDelegation(evt, del))
}

func TestVerifyDelegationRejectsKindMismatch(t *testing.T) {
	evt := delegatedEvent(t, "kind=1", nostr.KindReaction, nostr.Now())
	del := delegationOf(evt)
	require.NotNil(t, del)
	assert.Error(t, verifyDelegation(evt, del))
}

func TestVerifyDelegationRejectsExpiredWindow(t *testing.T) {
	conditions := fmt.Sprintf("created_at<%d", nostr.Now()-3600)
	evt := delegatedEvent(t, conditions, nostr.KindTextNote, nostr.Now())
	del := delegationOf(evt)
	require.NotNil(t, del)
	assert.Error(t, verifyDelegation(evt, del))
}

func TestVerifyDelegationRejectsUnknownCondition(t *testing.T) {
	evt := delegatedEvent(t, "moon=full", nostr.KindTextNote, nostr.Now())
	del := delegationOf(evt)
	require.NotNil(t, del)
	assert.Error(t, verifyDelegation(evt, del))
}

func TestIngestGateDropsInvalidDelegation(t *testing.T) {
	factory := &fakeFactory{}
	eng := buildTestEngine(t, factory)
	conn := connectRelay(t, eng, factory, "wss://relay.example.org")

	st := eng.Submit(store.Flat, &models.Request{
		ID:      "feed",
		Filters: []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}},
	})

	// Delegation authorizes kind 1 only; the event claims it on a reaction.
	bad := delegatedEvent(t, "kind=1", nostr.KindReaction, nostr.Now())
	conn.handler.OnEvent("feed", bad)

	good := delegatedEvent(t, "kind=1", nostr.KindTextNote, nostr.Now())
	conn.handler.OnEvent("feed", good)

	require.Eventually(t, func() bool { return st.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, good.ID, st.Events()[0].ID)
}
