package requestdata

import (
	"context"

	"github.com/google/uuid"
)

type requestDataKey struct{}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey{})
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}

// RequestData carries the resolved caller identity. Exactly one of UserID /
// GuestID is set; GuestID is the uuid minted into the guest cookie for
// anonymous callers.
type RequestData struct {
	UserID  uuid.UUID
	GuestID string
}

func (rd *RequestData) Authenticated() bool {
	return rd != nil && rd.UserID != uuid.Nil
}

func (rd *RequestData) Anonymous() bool {
	return rd != nil && rd.UserID == uuid.Nil && rd.GuestID != ""
}
