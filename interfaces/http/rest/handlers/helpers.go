package handlers

import (
	"net/http"

	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/auth"
	"brain2-connections/pkg/common"
	"brain2-connections/pkg/errors"
	"brain2-connections/pkg/utils"
)

// decodeRequest parses and validates a JSON body into v
func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := common.ParseJSONBody(w, r, v); err != nil {
		return errors.NewValidationError("Invalid request body").WithCause(err)
	}
	if err := utils.ValidateStruct(v); err != nil {
		return errors.NewValidationError(err.Error())
	}
	return nil
}

// actorFrom returns the authenticated caller as a history actor
func actorFrom(r *http.Request) (valueobjects.Actor, error) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		return valueobjects.Actor{}, errors.NewUnauthorizedError("")
	}
	return user.Actor(), nil
}

// pageFrom reads limit and offset; the ledger clamps them
func pageFrom(r *http.Request) (history.Page, error) {
	lo, err := common.ExtractLimitOffset(r)
	if err != nil {
		return history.Page{}, errors.NewValidationError(err.Error())
	}
	return history.Page{Limit: lo.Limit, Offset: lo.Offset}.Normalize(), nil
}
