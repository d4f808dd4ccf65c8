package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"vibe-planner/internal/entitlement"
	"vibe-planner/internal/hangout"
)

// Callback data is limited to 64 bytes, so buttons carry short codes.
const (
	cbStart       = "start"
	cbUpgrade     = "up"
	cbBack        = "b"
	cbSurprise    = "s"
	cbRegenerate  = "r"
	cbCloser      = "c"
	cbRestart     = "x"
	cbPlanAnother = "n"
	cbDepartNow   = "dn"
	cbPayCancel   = "pc"

	cbAnswer  = "a|"
	cbPlan    = "p|"
	cbTier    = "t|"
	cbRate    = "rt|"
	cbHistory = "h|"
)

const declineLocation = "No thanks"

func answerData(key hangout.ParamKey, index int) string {
	return fmt.Sprintf("%s%s|%d", cbAnswer, key, index)
}

func planData(index int) string {
	return cbPlan + strconv.Itoa(index)
}

func rateData(planID string, rating int) string {
	return fmt.Sprintf("%s%s|%d", cbRate, planID, rating)
}

func historyData(planID string) string {
	return cbHistory + planID
}

// callback is decoded button data.
type callback struct {
	action string
	key    hangout.ParamKey
	index  int
	id     string
	tier   entitlement.TierID
}

func parseCallback(data string) (callback, error) {
	switch {
	case strings.HasPrefix(data, cbAnswer):
		key, idx, ok := strings.Cut(strings.TrimPrefix(data, cbAnswer), "|")
		n, err := strconv.Atoi(idx)
		if !ok || err != nil {
			return callback{}, fmt.Errorf("malformed answer callback %q", data)
		}
		return callback{action: cbAnswer, key: hangout.ParamKey(key), index: n}, nil
	case strings.HasPrefix(data, cbPlan):
		n, err := strconv.Atoi(strings.TrimPrefix(data, cbPlan))
		if err != nil {
			return callback{}, fmt.Errorf("malformed plan callback %q", data)
		}
		return callback{action: cbPlan, index: n}, nil
	case strings.HasPrefix(data, cbTier):
		return callback{action: cbTier, tier: entitlement.TierID(strings.TrimPrefix(data, cbTier))}, nil
	case strings.HasPrefix(data, cbRate):
		id, rating, ok := strings.Cut(strings.TrimPrefix(data, cbRate), "|")
		n, err := strconv.Atoi(rating)
		if !ok || err != nil || id == "" {
			return callback{}, fmt.Errorf("malformed rating callback %q", data)
		}
		return callback{action: cbRate, id: id, index: n}, nil
	case strings.HasPrefix(data, cbHistory):
		return callback{action: cbHistory, id: strings.TrimPrefix(data, cbHistory)}, nil
	}

	switch data {
	case cbStart, cbUpgrade, cbBack, cbSurprise, cbRegenerate, cbCloser, cbRestart, cbPlanAnother, cbDepartNow, cbPayCancel:
		return callback{action: data}, nil
	}
	return callback{}, fmt.Errorf("unknown callback %q", data)
}
