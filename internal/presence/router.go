package presence

import (
	"encoding/json"
	"strings"

	"itinera/api/internal/errs"
)

type handlerFunc func(h *Hub, c *client, data json.RawMessage) error

func newRouter() map[string]handlerFunc {
	return map[string]handlerFunc{
		CmdJoin:         handleJoin,
		CmdLeave:        handleLeave,
		CmdFetch:        handleFetch,
		CmdEditingStart: handleEditing(true),
		CmdEditingEnd:   handleEditing(false),
	}
}

func (h *Hub) dispatch(c *client, env Envelope) {
	handler, ok := h.routes[env.Type]
	if !ok {
		c.sendError(env.Type, "VALIDATION_ERROR", "unknown command")
		return
	}
	if err := handler(h, c, env.Data); err != nil {
		code, message := errorCode(err)
		if code == "SERVER_ERROR" {
			h.logger.Error().Err(err).Str("command", env.Type).Str("socket_id", c.socketID).Msg("command failed")
		}
		c.sendError(env.Type, code, message)
	}
}

func errorCode(err error) (string, string) {
	message := errs.MessageOf(err)
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return "NOT_FOUND", message
	case errs.KindForbidden:
		return "FORBIDDEN", message
	case errs.KindValidation:
		return "VALIDATION_ERROR", message
	default:
		return "SERVER_ERROR", "internal server error"
	}
}

func decodeTemplate(data json.RawMessage) (string, error) {
	var ref TemplateRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return "", errs.Validation("invalid payload")
	}
	ref.TemplateID = strings.TrimSpace(ref.TemplateID)
	if ref.TemplateID == "" {
		return "", errs.Validation("templateUuid is required")
	}
	return ref.TemplateID, nil
}

func handleJoin(h *Hub, c *client, data json.RawMessage) error {
	templateID, err := decodeTemplate(data)
	if err != nil {
		return err
	}
	return h.join(c, templateID)
}

func handleLeave(h *Hub, c *client, data json.RawMessage) error {
	templateID, err := decodeTemplate(data)
	if err != nil {
		return err
	}
	h.leave(c, templateID)
	return nil
}

// handleFetch relays a client-side change to the template's other sessions.
func handleFetch(h *Hub, c *client, data json.RawMessage) error {
	templateID, err := decodeTemplate(data)
	if err != nil {
		return err
	}
	if !h.joined(c, templateID) {
		return errs.Forbidden("join the template first")
	}
	h.NotifyMutated(templateID, Origin{SocketID: c.socketID})
	return nil
}

func handleEditing(start bool) handlerFunc {
	return func(h *Hub, c *client, data json.RawMessage) error {
		var ref EditingRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return errs.Validation("invalid payload")
		}
		if ref.TemplateID == "" || ref.CardID == "" {
			return errs.Validation("templateUuid and cardUuid are required")
		}
		if !h.joined(c, ref.TemplateID) {
			return errs.Forbidden("join the template first")
		}

		cardID, eventType := ref.CardID, EvtEditingStart
		if !start {
			cardID, eventType = "", EvtEditingEnd
		}
		ctx, cancel := h.opContext()
		defer cancel()
		if err := h.roster.SetEditing(ctx, ref.TemplateID, c.socketID, cardID); err != nil {
			return errs.Storage("update roster", err)
		}

		b := Broadcast{TemplateID: ref.TemplateID, ExceptSocket: c.socketID}
		if h.setEnvelope(&b, eventType, c.editingEvent(ref.TemplateID, ref.CardID)) {
			h.broadcast(b)
		}
		return nil
	}
}
