package calendar

import (
	"context"
	"errors"
	"io"

	"artcrm/internal/ics"
	appLog "artcrm/internal/log"
	"artcrm/internal/model"
)

type ImportSkip struct {
	UID    string `json:"uid"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Created   []model.EventView `json:"created"`
	Skipped   []ImportSkip      `json:"skipped"`
	Cancelled int               `json:"cancelled_instances"`
}

// ImportICS creates one event per VEVENT in r. EXDATEs and cancelled
// instance overrides become cancelled occurrence overrides. VEVENTs that
// fail validation are reported and skipped.
func (s *Service) ImportICS(ctx context.Context, userID int64, r io.Reader) (ImportResult, error) {
	if _, err := s.stores.Users.FindByID(ctx, userID); err != nil {
		return ImportResult{}, err
	}
	items, err := ics.Parse(r, s.loc)
	if err != nil {
		return ImportResult{}, &model.ValidationError{Fields: map[string]string{"body": err.Error()}}
	}

	res := ImportResult{Created: []model.EventView{}, Skipped: []ImportSkip{}}
	for _, item := range items {
		view, err := s.CreateEvent(ctx, userID, item.Input)
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			res.Skipped = append(res.Skipped, ImportSkip{UID: item.UID, Reason: verr.Error()})
			continue
		}
		if err != nil {
			return res, err
		}
		res.Created = append(res.Created, view)

		if !view.IsRecurring {
			continue
		}
		for _, at := range item.Cancelled {
			if _, err := s.stores.Overrides.Upsert(ctx, view.ID, at.In(s.loc), model.StatusCancelled); err != nil {
				return res, err
			}
			res.Cancelled++
		}
	}

	appLog.Info("ics import completed",
		"user_id", userID,
		"created", len(res.Created),
		"skipped", len(res.Skipped),
		"cancelled_instances", res.Cancelled,
	)
	return res, nil
}
