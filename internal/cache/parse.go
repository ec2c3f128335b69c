package cache

import (
	"encoding/json"
	"fmt"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/Shugur-Network/lens/internal/models"
)

// profileContent mirrors the JSON document carried in kind-0 content.
type profileContent struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	About       string `json:"about"`
	Picture     string `json:"picture"`
	Nip05       string `json:"nip05"`
	Lud16       string `json:"lud16"`
	ServiceKey  string `json:"service_key"`
}

// ParseProfile builds a ProfileRecord from a kind-0 metadata event. The
// content must be a JSON object; a record is never produced from a payload
// that fails to decode. Tags with at least two entries are kept as
// name-to-value annotations, first occurrence winning.
func ParseProfile(evt *nostr.Event) (*models.ProfileRecord, error) {
	if evt == nil {
		return nil, fmt.Errorf("nil event")
	}
	if evt.Kind != nostr.KindProfileMetadata {
		return nil, fmt.Errorf("unexpected kind %d", evt.Kind)
	}

	var content profileContent
	if err := json.Unmarshal([]byte(evt.Content), &content); err != nil {
		return nil, fmt.Errorf("decoding profile content: %w", err)
	}

	rec := &models.ProfileRecord{
		Pubkey:          evt.PubKey,
		Name:            content.Name,
		DisplayName:     content.DisplayName,
		About:           content.About,
		Picture:         content.Picture,
		Nip05:           content.Nip05,
		Lud16:           content.Lud16,
		ServiceKey:      content.ServiceKey,
		LoadedAt:        time.Now(),
		SourceCreatedAt: evt.CreatedAt,
	}

	if addr, err := nip19.EncodePublicKey(evt.PubKey); err == nil {
		rec.Address = addr
		rec.AddressValid = true
	}

	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] == "" {
			continue
		}
		if rec.Annotations == nil {
			rec.Annotations = make(map[string]string)
		}
		if _, seen := rec.Annotations[tag[0]]; !seen {
			rec.Annotations[tag[0]] = tag[1]
		}
	}

	return rec, nil
}
