package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"aether-sync/domain"
	"aether-sync/internal/consts"
	"aether-sync/room"
	"aether-sync/storage"
	"aether-sync/subscription"
)

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, store TaskStore, mgr *room.Manager, pub Publisher, ded Deduper, logger *log.Logger) {
	mut := NewMutator(store, pub)

	e.GET("/stream", streamTasks(store, mgr))
	e.POST("/api/commands", postCommands(store, mgr, mut, ded))
	e.GET("/api/tasks", getTasks(store, logger))
	e.GET("/api/organisation", getOrganisation(store))
	e.GET("/healthz", healthz())
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type organisationResponse struct {
	OrganisationID string `json:"organisationId"`
}

type connectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// streamTasks is the realtime endpoint. It registers the connection, joins
// the resolved room, writes the initial snapshot and then relays broadcast
// events until the client goes away. A connection whose scope cannot be
// resolved stays registered but roomless and receives no snapshots.
func streamTasks(store TaskStore, mgr *room.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		scope, resolveErr := domain.ResolveScope(
			c.QueryParam("orgId"),
			c.QueryParam("userId"),
			c.QueryParam("board"),
		)
		if resolveErr != nil {
			log.WithError(resolveErr).Warn("stream connection without resolvable scope")
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		conn := mgr.Register(scope)
		defer mgr.Unregister(conn)

		ctx := c.Request().Context()

		hello, err := sonicMarshal(connectedPayload{ConnectionID: conn.ID})
		if err != nil {
			return err
		}
		if err := writeEvent(c, flusher, "connected", hello); err != nil {
			return nil
		}

		if resolveErr == nil {
			mgr.Join(conn, scope.RoomKey())
			log.WithFields(log.Fields{"conn": conn.ID, "room": scope.RoomKey()}).Info("client joined")

			data, err := subscription.Snapshot(ctx, store, scope)
			if err != nil {
				log.WithError(err).WithField("room", scope.RoomKey()).Error("initial snapshot")
			} else if err := writeEvent(c, flusher, consts.EventLoadTasks, data); err != nil {
				return nil
			}
		}

		for {
			select {
			case <-ctx.Done():
				log.WithField("conn", conn.ID).Info("client disconnected")
				return nil
			case ev := <-conn.Events():
				if err := writeEvent(c, flusher, ev.Name, ev.Data); err != nil {
					return nil
				}
			}
		}
	}
}

func writeEvent(c echo.Context, flusher http.Flusher, name string, data []byte) error {
	if _, err := c.Response().Write([]byte(consts.SSEEventPrefix + name + "\n")); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte(consts.SSEDataPrefix)); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// getTasks serves a one-shot scope-filtered snapshot.
func getTasks(store TaskStore, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics := newSnapshotRequestMetrics(logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		scope, resolveErr := domain.ResolveScope(
			c.QueryParam("orgId"),
			c.QueryParam("userId"),
			c.QueryParam("board"),
		)
		if resolveErr != nil {
			metrics.SetErrorStage("resolve")
			err = c.String(http.StatusBadRequest, resolveErr.Error())
			return err
		}
		metrics.SetBoard(scope.Board)

		fetchStart := time.Now()
		tasks, fetchErr := store.FetchTasks(ctx, scope)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetTasksReturned(len(tasks))

		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		return err
	}
}

// getOrganisation resolves the organisation a user belongs to. Read-only.
func getOrganisation(store TaskStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.QueryParam("userId")
		if userID == "" {
			return c.String(http.StatusBadRequest, "missing userId")
		}
		orgID, err := store.FetchOrganisationID(c.Request().Context(), userID)
		if err != nil {
			if errors.Is(err, storage.ErrNoMembership) {
				return c.NoContent(http.StatusNotFound)
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, organisationResponse{OrganisationID: orgID})
	}
}
