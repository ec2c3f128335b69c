package application

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	nostr "github.com/nbd-wtf/go-nostr"
)

// delegation is a parsed NIP-26 delegation tag: the master key authorized the
// event's author to publish on its behalf, within the stated conditions.
type delegation struct {
	MasterPubkey string
	Conditions   string
	Sig          string
}

// delegationOf returns the event's delegation tag, or nil when absent.
func delegationOf(evt *nostr.Event) *delegation {
	for _, tag := range evt.Tags {
		if len(tag) >= 4 && tag[0] == "delegation" {
			return &delegation{
				MasterPubkey: tag[1],
				Conditions:   tag[2],
				Sig:          tag[3],
			}
		}
	}
	return nil
}

// verifyDelegation checks the schnorr proof over the delegation token and
// that the event satisfies the delegation conditions. Events carrying a tag
// that fails either check claim an authorization they do not have and must
// not reach stores.
func verifyDelegation(evt *nostr.Event, del *delegation) error {
	if !checkDelegationSig(del.MasterPubkey, del.Sig, del.Conditions, evt.PubKey) {
		return fmt.Errorf("invalid delegation signature")
	}
	if err := checkConditions(del.Conditions, evt); err != nil {
		return fmt.Errorf("delegation conditions not met: %w", err)
	}
	return nil
}

// checkDelegationSig verifies the BIP-340 signature over
// sha256("nostr:delegation:<delegatee>:<conditions>").
func checkDelegationSig(masterPub, sig, conditions, delegatePub string) bool {
	token := []byte("nostr:delegation:" + delegatePub + ":" + conditions)
	h := sha256.Sum256(token)

	pubKeyBytes, err := hex.DecodeString(masterPub)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	parsedSig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	return parsedSig.Verify(h[:], pubKey)
}

// checkConditions evaluates a conditions string such as
// "kind=1&created_at>1670000000" against the event.
func checkConditions(conds string, evt *nostr.Event) error {
	if conds == "" {
		return nil
	}
	for _, cond := range strings.Split(conds, "&") {
		if err := checkSingleCondition(cond, evt); err != nil {
			return err
		}
	}
	return nil
}

func checkSingleCondition(cond string, evt *nostr.Event) error {
	switch {
	case strings.HasPrefix(cond, "kind="):
		val := strings.TrimPrefix(cond, "kind=")
		wantKind, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid kind condition: %s", val)
		}
		if evt.Kind != wantKind {
			return fmt.Errorf("event kind %d != required %d", evt.Kind, wantKind)
		}

	case strings.HasPrefix(cond, "created_at>"):
		val := strings.TrimPrefix(cond, "created_at>")
		num, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid created_at> condition: %s", val)
		}
		if evt.CreatedAt.Time().Unix() <= num {
			return fmt.Errorf("event created_at %d is not > %d",
				evt.CreatedAt.Time().Unix(), num)
		}

	case strings.HasPrefix(cond, "created_at<"):
		val := strings.TrimPrefix(cond, "created_at<")
		num, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid created_at< condition: %s", val)
		}
		if evt.CreatedAt.Time().Unix() >= num {
			return fmt.Errorf("event created_at %d is not < %d",
				evt.CreatedAt.Time().Unix(), num)
		}

	default:
		return fmt.Errorf("unknown delegation condition: %s", cond)
	}
	return nil
}
