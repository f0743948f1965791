package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	http "github.com/bogdanfinn/fhttp"
)

const (
	takumiRecordBase = "https://api-takumi-record.mihoyo.com"
	takumiBase       = "https://api-takumi.mihoyo.com"

	urlGameRecordCard  = takumiRecordBase + "/game_record/card/wapi/getGameRecordCard"
	urlGenshinIndex    = takumiRecordBase + "/game_record/app/genshin/api/index"
	urlCharacterList   = takumiRecordBase + "/game_record/app/genshin/api/character/list"
	urlCharacterDetail = takumiRecordBase + "/game_record/app/genshin/api/character/detail"
	urlLunaSign        = takumiBase + "/event/luna/sign"

	// genshinGameID identifies Genshin entries in the game-record card.
	genshinGameID = 2

	// genshinActID is the daily check-in activity id.
	genshinActID = "e202311201442471"
)

// GameRole is one game account bound to the passport, as listed by the
// game-record card endpoint.
type GameRole struct {
	GameID     int    `json:"game_id"`
	GameRoleID string `json:"game_role_id"`
	Nickname   string `json:"nickname"`
	Region     string `json:"region"`
	Level      int    `json:"level"`
}

// GenshinIndex is the trimmed account overview from the index endpoint.
type GenshinIndex struct {
	Role struct {
		Nickname string `json:"nickname"`
		Level    int    `json:"level"`
	} `json:"role"`
	Stats struct {
		ActiveDays   int    `json:"active_day_number"`
		Achievements int    `json:"achievement_number"`
		Avatars      int    `json:"avatar_number"`
		SpiralAbyss  string `json:"spiral_abyss"`
	} `json:"stats"`
}

// Character is one entry from the character list endpoint.
type Character struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Element string `json:"element"`
	Level   int    `json:"level"`
	Rarity  int    `json:"rarity"`
}

// GenshinRole discovers the Genshin role bound to the account's passport UID
// via the game-record card.
func (c *APIClient) GenshinRole(ctx context.Context) (*GameRole, Outcome, error) {
	out, err := c.Query(ctx, &Request{
		URL:    urlGameRecordCard,
		Method: http.MethodGet,
		Params: url.Values{"uid": {c.acct.UID}},
	})
	if err != nil || out.Kind != OutcomeSuccess {
		return nil, out, err
	}

	var card struct {
		List []GameRole `json:"list"`
	}
	if err := json.Unmarshal(out.Payload, &card); err != nil {
		out.Kind = OutcomeMalformed
		out.Err = err
		return nil, out, nil
	}

	for i := range card.List {
		if card.List[i].GameID == genshinGameID {
			return &card.List[i], out, nil
		}
	}
	out.Kind = OutcomeMalformed
	out.Err = fmt.Errorf("no genshin role on record card for uid %s", c.acct.UID)
	return nil, out, nil
}

// GenshinIndex fetches the account overview for one role.
func (c *APIClient) GenshinIndex(ctx context.Context, role *GameRole) (*GenshinIndex, Outcome, error) {
	out, err := c.Query(ctx, &Request{
		URL:    urlGenshinIndex,
		Method: http.MethodGet,
		Params: url.Values{
			"avatar_list_type": {"1"},
			"role_id":          {role.GameRoleID},
			"server":           {role.Region},
		},
	})
	if err != nil || out.Kind != OutcomeSuccess {
		return nil, out, err
	}

	var index GenshinIndex
	if err := json.Unmarshal(out.Payload, &index); err != nil {
		out.Kind = OutcomeMalformed
		out.Err = err
		return nil, out, nil
	}
	return &index, out, nil
}

// CharacterList fetches all characters for one role.
func (c *APIClient) CharacterList(ctx context.Context, role *GameRole) ([]Character, Outcome, error) {
	out, err := c.Query(ctx, &Request{
		URL:    urlCharacterList,
		Method: http.MethodPost,
		Body: map[string]any{
			"role_id":   role.GameRoleID,
			"server":    role.Region,
			"sort_type": 1,
		},
	})
	if err != nil || out.Kind != OutcomeSuccess {
		return nil, out, err
	}

	var list struct {
		List []Character `json:"list"`
	}
	if err := json.Unmarshal(out.Payload, &list); err != nil {
		out.Kind = OutcomeMalformed
		out.Err = err
		return nil, out, nil
	}
	return list.List, out, nil
}

// CharacterDetail fetches full details (artifacts, weapon, constellations)
// for the given character ids. The payload is passed through raw; rendering
// is the presentation layer's concern.
func (c *APIClient) CharacterDetail(ctx context.Context, role *GameRole, characterIDs []int64) (json.RawMessage, Outcome, error) {
	out, err := c.Query(ctx, &Request{
		URL:    urlCharacterDetail,
		Method: http.MethodPost,
		Body: map[string]any{
			"role_id":       role.GameRoleID,
			"server":        role.Region,
			"character_ids": characterIDs,
		},
	})
	if err != nil || out.Kind != OutcomeSuccess {
		return nil, out, err
	}
	return out.Payload, out, nil
}

// DailySign performs the daily check-in for one role. An already-signed
// response counts as success.
func (c *APIClient) DailySign(ctx context.Context, role *GameRole) (Outcome, error) {
	return c.Query(ctx, &Request{
		URL:    urlLunaSign,
		Method: http.MethodPost,
		Body: map[string]any{
			"act_id": genshinActID,
			"region": role.Region,
			"uid":    role.GameRoleID,
		},
	})
}
