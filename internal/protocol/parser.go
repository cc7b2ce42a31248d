package protocol

import "fmt"

// AuthorizeRequest asks the auth service to check a login. Requester is the
// gateway-local id of the connection that sent the login, echoed back in
// the grant so the gateway can answer it.
type AuthorizeRequest struct {
	Requester ConnID
	Session   Token
	User      Str
	Password  Str
}

func (r AuthorizeRequest) EncodedSize() int {
	return Size(r.Requester, r.Session, r.User, r.Password)
}

func (r AuthorizeRequest) Encode(b *Buffer) error {
	return Tuple{&r.Requester, &r.Session, &r.User, &r.Password}.Encode(b)
}

func (r *AuthorizeRequest) Decode(b *Buffer) error {
	return Tuple{&r.Requester, &r.Session, &r.User, &r.Password}.Decode(b)
}

// AuthorizeGrant is the auth service's verdict. User and Display are only
// meaningful when OK is set.
type AuthorizeGrant struct {
	Requester ConnID
	Session   Token
	OK        Bool
	User      Token
	Display   Str
}

func (g AuthorizeGrant) EncodedSize() int {
	return Size(g.Requester, g.Session, g.OK, g.User, g.Display)
}

func (g AuthorizeGrant) Encode(b *Buffer) error {
	return Tuple{&g.Requester, &g.Session, &g.OK, &g.User, &g.Display}.Encode(b)
}

func (g *AuthorizeGrant) Decode(b *Buffer) error {
	return Tuple{&g.Requester, &g.Session, &g.OK, &g.User, &g.Display}.Decode(b)
}

// Forward is a decoded mesh envelope.
type Forward struct {
	Route  Route
	Source ConnID
	Inner  *Buffer
}

// LoginResult is the gateway's answer to a client login.
type LoginResult struct {
	OK      bool
	Session Token
	Text    string
}

// ChatLine is a chat message. From is a display name on the mesh and is
// empty when parsed from an external client, which sends Session instead.
type ChatLine struct {
	Session Token
	From    string
	Text    string
}

// GameFrame is a game message with its opaque body.
type GameFrame struct {
	Header  GatewayHeader
	Session Token
	Command GameCommand
	Body    []byte
}

// ReadCommand pulls the command byte at the head of a frame.
func ReadCommand(b *Buffer) (Command, error) {
	return Pull[Command](b)
}

// ParseRegister reads the flavor of a Register frame.
func ParseRegister(b *Buffer) (Flavor, error) {
	f, err := Pull[Flavor](b)
	if err != nil {
		return FlavorNone, fmt.Errorf("failed to parse register: %w", err)
	}
	return f, nil
}

// ParseHello reads the id carried by a server Hello.
func ParseHello(b *Buffer) (ConnID, error) {
	id, err := Pull[ConnID](b)
	if err != nil {
		return 0, fmt.Errorf("failed to parse hello: %w", err)
	}
	return id, nil
}

// ParseClientHello reads the session token carried by a client Hello.
func ParseClientHello(b *Buffer) (Token, error) {
	t, err := Pull[Token](b)
	if err != nil {
		return NilToken, fmt.Errorf("failed to parse client hello: %w", err)
	}
	return t, nil
}

// ParseForward reads a mesh envelope. The inner frame is copied into its own
// buffer, positioned at its command byte.
func ParseForward(b *Buffer) (*Forward, error) {
	var fwd Forward
	if err := (Tuple{&fwd.Route, &fwd.Source}).Decode(b); err != nil {
		return nil, fmt.Errorf("failed to parse forward header: %w", err)
	}
	if b.Unread() == 0 {
		return nil, fmt.Errorf("failed to parse forward: %w", ErrEmptyFrame)
	}
	inner, err := BufferFromPayload(b.Rest())
	if err != nil {
		return nil, err
	}
	fwd.Inner = inner
	return &fwd, nil
}

// ParseLogin reads user and password.
func ParseLogin(b *Buffer) (user, password string, err error) {
	var u, p Str
	if err := (Tuple{&u, &p}).Decode(b); err != nil {
		return "", "", fmt.Errorf("failed to parse login: %w", err)
	}
	return string(u), string(p), nil
}

// ParseLoginResult reads a LoginResult frame.
func ParseLoginResult(b *Buffer) (*LoginResult, error) {
	var (
		ok      Bool
		session Token
		text    Str
	)
	if err := (Tuple{&ok, &session, &text}).Decode(b); err != nil {
		return nil, fmt.Errorf("failed to parse login result: %w", err)
	}
	return &LoginResult{OK: bool(ok), Session: session, Text: string(text)}, nil
}

// ParseAuthorizeRequest reads a gateway -> auth request.
func ParseAuthorizeRequest(b *Buffer) (*AuthorizeRequest, error) {
	req, err := Pull[AuthorizeRequest](b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorize request: %w", err)
	}
	return &req, nil
}

// ParseAuthorizeGrant reads an auth -> gateway grant.
func ParseAuthorizeGrant(b *Buffer) (*AuthorizeGrant, error) {
	grant, err := Pull[AuthorizeGrant](b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorize grant: %w", err)
	}
	return &grant, nil
}

// ParseClientChat reads a chat line from an external client.
func ParseClientChat(b *Buffer) (*ChatLine, error) {
	var (
		session Token
		text    Str
	)
	if err := (Tuple{&session, &text}).Decode(b); err != nil {
		return nil, fmt.Errorf("failed to parse client chat: %w", err)
	}
	return &ChatLine{Session: session, Text: string(text)}, nil
}

// ParseChat reads a chat line attributed by display name.
func ParseChat(b *Buffer) (*ChatLine, error) {
	var from, text Str
	if err := (Tuple{&from, &text}).Decode(b); err != nil {
		return nil, fmt.Errorf("failed to parse chat: %w", err)
	}
	return &ChatLine{From: string(from), Text: string(text)}, nil
}

// ParseClientInventory reads the token of an external inventory request.
func ParseClientInventory(b *Buffer) (Token, error) {
	t, err := Pull[Token](b)
	if err != nil {
		return NilToken, fmt.Errorf("failed to parse client inventory: %w", err)
	}
	return t, nil
}

// ParseGatewayHeader reads the header at the head of an annotated frame.
func ParseGatewayHeader(b *Buffer) (GatewayHeader, error) {
	h, err := Pull[GatewayHeader](b)
	if err != nil {
		return GatewayHeader{}, fmt.Errorf("failed to parse gateway header: %w", err)
	}
	return h, nil
}

// ParseInventoryList reads the items of a client-side InventoryList frame.
func ParseInventoryList(b *Buffer) ([]Item, error) {
	items, err := Pull[Items](b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse inventory list: %w", err)
	}
	return items, nil
}

// ParseNotice reads the text of a client-side Notice frame.
func ParseNotice(b *Buffer) (string, error) {
	s, err := Pull[Str](b)
	if err != nil {
		return "", fmt.Errorf("failed to parse notice: %w", err)
	}
	return string(s), nil
}

// ParseClientGame reads a game frame as sent by an external client.
func ParseClientGame(b *Buffer) (*GameFrame, error) {
	var g GameFrame
	var body Raw
	if err := (Tuple{&g.Session, &g.Command, &body}).Decode(b); err != nil {
		return nil, fmt.Errorf("failed to parse client game frame: %w", err)
	}
	g.Body = body
	return &g, nil
}

// ParseGame reads an annotated game frame.
func ParseGame(b *Buffer) (*GameFrame, error) {
	var g GameFrame
	var body Raw
	if err := (Tuple{&g.Header, &g.Command, &body}).Decode(b); err != nil {
		return nil, fmt.Errorf("failed to parse game frame: %w", err)
	}
	g.Body = body
	g.Session = g.Header.Session
	return &g, nil
}
