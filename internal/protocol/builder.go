package protocol

import "fmt"

// Frame builders. Each returns a freshly sized buffer whose first payload
// byte is the command; receivers pull the command and hand the rest of the
// buffer to the matching Parse function.

// BuildRegister builds the first frame every peer sends after dialing.
func BuildRegister(f Flavor) (*Buffer, error) {
	return Encode(CmdRegister, f)
}

// BuildHello builds the server's answer to Register, telling the peer which
// id it was assigned.
func BuildHello(id ConnID) (*Buffer, error) {
	return Encode(CmdHello, id)
}

// BuildClientHello builds the frame an external client sends the gateway to
// bind its new connection to a previously authorized session.
func BuildClientHello(session Token) (*Buffer, error) {
	return Encode(CmdHello, session)
}

// BuildForward wraps inner in a mesh envelope addressed to route. The relay
// overwrites source with the sender's real id, so callers normally pass 0.
func BuildForward(route Route, source ConnID, inner *Buffer) (*Buffer, error) {
	if inner == nil || inner.Len() == 0 {
		return nil, ErrEmptyFrame
	}
	buf, err := Encode(CmdForward, route, source, Raw(inner.Payload()))
	if err != nil {
		return nil, fmt.Errorf("failed to build forward to %s: %w", route, err)
	}
	return buf, nil
}

// BuildLogin builds a client login request.
func BuildLogin(user, password string) (*Buffer, error) {
	return Encode(CmdLogin, Str(user), Str(password))
}

// BuildLoginResult builds the gateway's answer to a login. On success text
// is the display name, otherwise a reason.
func BuildLoginResult(ok bool, session Token, text string) (*Buffer, error) {
	return Encode(CmdLoginResult, Bool(ok), session, Str(text))
}

// BuildAuthorizeRequest builds the gateway -> auth credential check.
func BuildAuthorizeRequest(req AuthorizeRequest) (*Buffer, error) {
	return Encode(CmdAuthorize, &req)
}

// BuildAuthorizeGrant builds the auth -> gateway verdict.
func BuildAuthorizeGrant(grant AuthorizeGrant) (*Buffer, error) {
	return Encode(CmdAuthorize, &grant)
}

// BuildClientChat builds a chat line as sent by an external client.
func BuildClientChat(session Token, text string) (*Buffer, error) {
	return Encode(CmdChat, session, Str(text))
}

// BuildChat builds a chat line attributed by display name.
func BuildChat(name, text string) (*Buffer, error) {
	return Encode(CmdChat, Str(name), Str(text))
}

// BuildClientInventory builds an external client's inventory request.
func BuildClientInventory(session Token) (*Buffer, error) {
	return Encode(CmdInventory, session)
}

// BuildInventoryRequest builds the annotated request the gateway sends to
// the inventory service.
func BuildInventoryRequest(h GatewayHeader) (*Buffer, error) {
	return Encode(CmdInventory, h)
}

// BuildInventoryList builds the inventory service's reply.
func BuildInventoryList(h GatewayHeader, items []Item) (*Buffer, error) {
	return Encode(CmdInventoryList, h, Items(items))
}

// BuildNotice builds a free-text message from a service to one user.
func BuildNotice(h GatewayHeader, text string) (*Buffer, error) {
	return Encode(CmdNotice, h, Str(text))
}

// BuildClientGame builds a game frame as sent by an external client.
func BuildClientGame(session Token, cmd GameCommand, body []byte) (*Buffer, error) {
	return Encode(CmdGame, session, cmd, Raw(body))
}

// BuildGame builds an annotated game frame exchanged with the game service.
func BuildGame(h GatewayHeader, cmd GameCommand, body []byte) (*Buffer, error) {
	return Encode(CmdGame, h, cmd, Raw(body))
}

// BuildUserFrame strips the gateway header from a user-addressed mesh frame
// and returns the frame as the external client sees it. rest is everything
// after the header.
func BuildUserFrame(cmd Command, rest []byte) (*Buffer, error) {
	return Encode(cmd, Raw(rest))
}
