package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/courtyard-project/courtyard/internal/db"
	"github.com/courtyard-project/courtyard/internal/protocol"
	"github.com/courtyard-project/courtyard/internal/util"
)

// maxItems is the longest inventory a single InventoryList can carry.
const maxItems = 255

// AccountStore is what the auth service needs from storage.
type AccountStore interface {
	AccountByName(ctx context.Context, name string) (db.Account, error)
}

// InventoryStore is what the inventory service needs from storage.
type InventoryStore interface {
	Inventory(ctx context.Context, account uuid.UUID) ([]db.Item, error)
}

// ChatStore records chat history. It may be nil.
type ChatStore interface {
	AppendChat(ctx context.Context, from, text string) error
}

// Auth checks Authorize requests against stored bcrypt hashes and answers
// the requesting gateway with a grant.
func Auth(store AccountStore) Handler {
	logger := log.With().Str("component", "auth").Logger()

	return HandlerFunc(func(ctx context.Context, source protocol.ConnID, cmd protocol.Command, frame *protocol.Buffer) []Reply {
		if cmd != protocol.CmdAuthorize {
			return nil
		}
		req, err := protocol.ParseAuthorizeRequest(frame)
		if err != nil {
			logger.Warn().Err(err).Uint8("source", uint8(source)).Msg("malformed authorize request")
			return nil
		}

		grant := protocol.AuthorizeGrant{Requester: req.Requester, Session: req.Session}
		acct, err := store.AccountByName(ctx, string(req.User))
		switch {
		case errors.Is(err, db.ErrNotFound):
			grant.Display = "invalid credentials"
		case err != nil:
			logger.Error().Err(err).Msg("account lookup failed")
			grant.Display = "authentication unavailable"
		case !util.CheckPassword(acct.PasswordHash, string(req.Password)):
			grant.Display = "invalid credentials"
		default:
			grant.OK = true
			grant.User = protocol.Token(acct.ID)
			grant.Display = protocol.Str(acct.Display)
		}

		logger.Info().
			Str("user", string(req.User)).
			Bool("ok", bool(grant.OK)).
			Uint8("gateway", uint8(source)).
			Msg("login checked")

		out, err := protocol.BuildAuthorizeGrant(grant)
		if err != nil {
			logger.Error().Err(err).Msg("failed to build grant")
			return nil
		}
		return []Reply{{Route: protocol.One(source), Frame: out}}
	})
}

// Inventory answers inventory requests with the user's items.
func Inventory(store InventoryStore) Handler {
	logger := log.With().Str("component", "inventory").Logger()

	return HandlerFunc(func(ctx context.Context, source protocol.ConnID, cmd protocol.Command, frame *protocol.Buffer) []Reply {
		if cmd != protocol.CmdInventory {
			return nil
		}
		h, err := protocol.ParseGatewayHeader(frame)
		if err != nil {
			logger.Warn().Err(err).Uint8("source", uint8(source)).Msg("malformed inventory request")
			return nil
		}

		rows, err := store.Inventory(ctx, uuid.UUID(h.User))
		if err != nil {
			logger.Error().Err(err).Str("user", h.User.String()).Msg("inventory lookup failed")
			notice, err := protocol.BuildNotice(h, "inventory unavailable")
			if err != nil {
				return nil
			}
			return []Reply{{Route: protocol.One(source), Frame: notice}}
		}

		if len(rows) > maxItems {
			logger.Warn().Int("items", len(rows)).Str("user", h.User.String()).Msg("inventory truncated")
			rows = rows[:maxItems]
		}
		items := make([]protocol.Item, len(rows))
		for i, row := range rows {
			items[i] = protocol.Item{Name: protocol.Str(row.Name), Quantity: protocol.U32(row.Quantity)}
		}

		out, err := protocol.BuildInventoryList(h, items)
		if err != nil {
			logger.Error().Err(err).Msg("failed to build inventory list")
			return nil
		}
		return []Reply{{Route: protocol.One(source), Frame: out}}
	})
}

// Chat rebroadcasts chat lines to every gateway and records them when
// store is set.
func Chat(store ChatStore) Handler {
	logger := log.With().Str("component", "chat").Logger()

	return HandlerFunc(func(ctx context.Context, source protocol.ConnID, cmd protocol.Command, frame *protocol.Buffer) []Reply {
		if cmd != protocol.CmdChat {
			return nil
		}
		line, err := protocol.ParseChat(frame)
		if err != nil {
			logger.Warn().Err(err).Uint8("source", uint8(source)).Msg("malformed chat line")
			return nil
		}

		if store != nil {
			if err := store.AppendChat(ctx, line.From, line.Text); err != nil {
				logger.Warn().Err(err).Msg("failed to record chat line")
			}
		}

		out, err := protocol.BuildChat(line.From, line.Text)
		if err != nil {
			return nil
		}
		return []Reply{{Route: protocol.All(protocol.FlavorGateway), Frame: out}}
	})
}
