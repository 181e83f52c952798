package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore-backend/api/controllers/callercontext"
	"github.com/angelmondragon/marketcore-backend/api/responses"
	"github.com/angelmondragon/marketcore-backend/api/validators"
	"github.com/angelmondragon/marketcore-backend/internal/notifications"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

// inboxHandler resolves the calling owner before fn runs; any error fn
// returns is rendered through the standard envelope.
func inboxHandler(svc notifications.Service, logg *logger.Logger, fn func(r *http.Request, ownerID uuid.UUID) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}
		ownerID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload, err := fn(r, ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payload)
	}
}

// ListNotifications returns the caller merchant's inbox, newest first.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return inboxHandler(svc, logg, func(r *http.Request, ownerID uuid.UUID) (any, error) {
		page, err := validators.ParsePage(r)
		if err != nil {
			return nil, err
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unreadOnly", false)
		if err != nil {
			return nil, err
		}
		return svc.List(r.Context(), notifications.ListParams{
			OwnerUserID: ownerID,
			Limit:       page.Limit,
			Cursor:      page.Cursor,
			UnreadOnly:  unreadOnly,
		})
	})
}

// MarkNotificationRead answers with the stored read time, so retries see the
// same value.
func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return inboxHandler(svc, logg, func(r *http.Request, ownerID uuid.UUID) (any, error) {
		notificationID, err := callercontext.PathUUID(r, "notificationId")
		if err != nil {
			return nil, err
		}
		notification, err := svc.MarkRead(r.Context(), ownerID, notificationID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": notification.ID, "readAt": notification.ReadAt}, nil
	})
}

func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return inboxHandler(svc, logg, func(r *http.Request, ownerID uuid.UUID) (any, error) {
		updated, err := svc.MarkAllRead(r.Context(), ownerID)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"updated": updated}, nil
	})
}
