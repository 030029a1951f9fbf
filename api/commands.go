package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"aether-sync/domain"
	"aether-sync/internal/consts"
	"aether-sync/room"
	"aether-sync/subscription"
)

const postCommandMaxSize = 64 * 1024 // 64 KiB

// Command is one client-initiated board action, applied on behalf of the
// connection named in the request.
type Command struct {
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
}

type addTaskData struct {
	Title string `json:"title"`
}

type taskMovedData struct {
	TaskID    string `json:"taskId"`
	NewStatus string `json:"newStatus"`
}

type renameTaskData struct {
	TaskID   string `json:"taskId"`
	NewTitle string `json:"newTitle"`
}

type deleteTaskData struct {
	TaskID string `json:"taskId"`
}

type switchBoardData struct {
	Board string `json:"board"`
}

// POST /api/commands response body.
type postCommandResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys,omitempty"`
	Error           string   `json:"error,omitempty"`
}

func postCommands(store TaskStore, mgr *room.Manager, mut *Mutator, ded Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		conn, ok := mgr.Lookup(c.QueryParam("conn"))
		if !ok {
			return c.JSON(http.StatusNotFound, postCommandResponse{Error: "unknown connection"})
		}
		scope := conn.Scope()

		lr := io.LimitReader(c.Request().Body, postCommandMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		cmds := make([]Command, 0, 4)
		if err := dec.Decode(&cmds); err != nil {
			return c.JSON(http.StatusBadRequest, postCommandResponse{Error: "invalid body"})
		}

		keys := make([]string, len(cmds))
		for i := range cmds {
			if cmds[i].IdempotencyKey == "" {
				cmds[i].IdempotencyKey = uuid.NewString()
			}
			keys[i] = cmds[i].IdempotencyKey
		}

		for _, cmd := range cmds {
			if ded != nil {
				fresh, err := ded.Add(ctx, scope.UserID, cmd.IdempotencyKey)
				if err != nil {
					log.WithError(err).Warn("dedupe check failed, applying anyway")
				} else if !fresh {
					continue
				}
			}
			if err := dispatch(ctx, store, mgr, mut, conn, cmd); err != nil && ded != nil {
				if rerr := ded.Remove(ctx, scope.UserID, cmd.IdempotencyKey); rerr != nil {
					log.WithError(rerr).WithField("key", cmd.IdempotencyKey).Error("dedupe rollback failed")
				}
			}
		}

		return c.JSON(http.StatusAccepted, postCommandResponse{IdempotencyKeys: keys})
	}
}

// dispatch applies a single command. Malformed payloads and unknown types are
// dropped silently; the returned error reports storage failures only.
func dispatch(ctx context.Context, store TaskStore, mgr *room.Manager, mut *Mutator, conn *room.Connection, cmd Command) error {
	scope := conn.Scope()
	switch cmd.Type {
	case consts.CmdAddTask:
		var d addTaskData
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			log.WithError(err).Debug("addTask dropped: bad payload")
			return nil
		}
		return mut.AddTask(ctx, scope, d.Title)
	case consts.CmdTaskMoved:
		var d taskMovedData
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			log.WithError(err).Debug("taskMoved dropped: bad payload")
			return nil
		}
		return mut.MoveTask(ctx, scope, d.TaskID, d.NewStatus)
	case consts.CmdRenameTask:
		var d renameTaskData
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			log.WithError(err).Debug("renameTask dropped: bad payload")
			return nil
		}
		return mut.RenameTask(ctx, scope, d.TaskID, d.NewTitle)
	case consts.CmdDeleteTask:
		var d deleteTaskData
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			log.WithError(err).Debug("deleteTask dropped: bad payload")
			return nil
		}
		return mut.DeleteTask(ctx, scope, d.TaskID)
	case consts.CmdSwitchBoard:
		var d switchBoardData
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			log.WithError(err).Debug("switchBoard dropped: bad payload")
			return nil
		}
		switchBoard(ctx, store, mgr, conn, d.Board)
		return nil
	default:
		log.WithField("type", cmd.Type).Debug("unknown command dropped")
		return nil
	}
}

// switchBoard moves the connection to the requested board and sends the new
// snapshot to the requester only.
func switchBoard(ctx context.Context, store TaskStore, mgr *room.Manager, conn *room.Connection, board string) {
	if board == "" {
		log.Debug("switchBoard dropped: missing board")
		return
	}
	if conn.Scope().OrgID == "" {
		log.Debug("switchBoard dropped: connection has no organisation")
		return
	}
	if board != domain.BoardMain {
		board = domain.BoardPersonal
	}
	scope := mgr.Switch(conn, board)
	log.WithFields(log.Fields{"conn": conn.ID, "room": scope.RoomKey()}).Debug("board switched")

	data, err := subscription.Snapshot(ctx, store, scope)
	if err != nil {
		log.WithError(err).WithField("room", scope.RoomKey()).Error("snapshot after board switch")
		return
	}
	conn.Send(room.Event{Name: consts.EventBoardSwitched, Data: data})
}
