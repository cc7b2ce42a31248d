// Package protocol implements the Courtyard wire format: length-prefixed
// frames, the typed encoding contract used to fill and drain them, and the
// routing and message vocabulary shared by every service on the fabric.
// All integers are little-endian and every frame carries a 2-byte length
// prefix.
package protocol

import "fmt"

const (
	// MaxPacketSize is the largest payload a single frame can carry.
	MaxPacketSize = 65535

	// LengthPrefixSize is the size of the frame length prefix.
	LengthPrefixSize = 2
)

// Command is the first payload byte of every frame.
//
// Decoding a Command never fails on an unknown tag: dispatchers treat an
// unknown top-level command as a no-op, so Known must be checked explicitly.
type Command uint8

// Fabric commands.
const (
	CmdRegister Command = 0x01 // peer -> server: [Flavor]
	CmdHello    Command = 0x02 // server -> peer: [ConnID]; client -> gateway: [Token]
	CmdForward  Command = 0x03 // [Route][source ConnID][inner payload]
)

// Session and service commands.
const (
	CmdLogin         Command = 0x10 // [Str user][Str password]
	CmdLoginResult   Command = 0x11 // [Bool ok][Token session][Str display or reason]
	CmdAuthorize     Command = 0x12 // request and grant, see AuthorizeRequest/AuthorizeGrant
	CmdChat          Command = 0x20 // client: [Token][Str text]; mesh: [Str name][Str text]
	CmdInventory     Command = 0x30 // client: [Token]; mesh: [GatewayHeader]
	CmdInventoryList Command = 0x31 // mesh: [GatewayHeader][Seq Item]; client: [Seq Item]
	CmdNotice        Command = 0x32 // mesh: [GatewayHeader][Str text]; client: [Str text]
	CmdGame          Command = 0x40 // [Token or GatewayHeader][GameCommand][body]
)

var commandStrings = map[Command]string{
	CmdRegister:      "register",
	CmdHello:         "hello",
	CmdForward:       "forward",
	CmdLogin:         "login",
	CmdLoginResult:   "login_result",
	CmdAuthorize:     "authorize",
	CmdChat:          "chat",
	CmdInventory:     "inventory",
	CmdInventoryList: "inventory_list",
	CmdNotice:        "notice",
	CmdGame:          "game",
}

func (c Command) String() string {
	if s, ok := commandStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("command(0x%02X)", uint8(c))
}

// Known reports whether c is part of the vocabulary.
func (c Command) Known() bool {
	_, ok := commandStrings[c]
	return ok
}

// UserAddressed reports whether mesh frames with this command carry a
// GatewayHeader and must be delivered to the user that header names.
func (c Command) UserAddressed() bool {
	switch c {
	case CmdInventoryList, CmdNotice, CmdGame:
		return true
	}
	return false
}

func (Command) EncodedSize() int         { return 1 }
func (c Command) Encode(b *Buffer) error { return b.PushByte(byte(c)) }
func (c *Command) Decode(b *Buffer) error {
	v, err := b.PullByte()
	*c = Command(v)
	return err
}

// GameCommand is the second-level dispatch byte inside CmdGame frames.
type GameCommand uint8

const (
	GameJoin GameCommand = iota + 1
	GameLeave
	GamePlay
	GameDraw
	GameState
	GameError
)

var gameCommandStrings = map[GameCommand]string{
	GameJoin:  "join",
	GameLeave: "leave",
	GamePlay:  "play",
	GameDraw:  "draw",
	GameState: "state",
	GameError: "error",
}

func (g GameCommand) String() string {
	if s, ok := gameCommandStrings[g]; ok {
		return s
	}
	return fmt.Sprintf("game(0x%02X)", uint8(g))
}

func (GameCommand) EncodedSize() int         { return 1 }
func (g GameCommand) Encode(b *Buffer) error { return b.PushByte(byte(g)) }

// Decode is strict.
func (g *GameCommand) Decode(b *Buffer) error {
	v, err := b.PullByte()
	if err != nil {
		return err
	}
	if _, ok := gameCommandStrings[GameCommand(v)]; !ok {
		return &UnrecognizedTagError{Kind: "game command", Tag: v}
	}
	*g = GameCommand(v)
	return nil
}
