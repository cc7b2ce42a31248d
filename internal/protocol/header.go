package protocol

// GatewayHeader is what the gateway attaches to requests it forwards to
// internal services in place of the client's raw token. Services echo it
// back on replies so the gateway can find the user again.
type GatewayHeader struct {
	ConnID  ConnID
	User    Token
	Session Token
}

func (h GatewayHeader) EncodedSize() int {
	return h.ConnID.EncodedSize() + h.User.EncodedSize() + h.Session.EncodedSize()
}

func (h GatewayHeader) Encode(b *Buffer) error {
	return Tuple{&h.ConnID, &h.User, &h.Session}.Encode(b)
}

func (h *GatewayHeader) Decode(b *Buffer) error {
	return Tuple{&h.ConnID, &h.User, &h.Session}.Decode(b)
}

// Item is one inventory row: an item name and how many the user holds.
type Item struct {
	Name     Str
	Quantity U32
}

func (i Item) EncodedSize() int { return i.Name.EncodedSize() + i.Quantity.EncodedSize() }

func (i Item) Encode(b *Buffer) error {
	return Tuple{&i.Name, &i.Quantity}.Encode(b)
}

func (i *Item) Decode(b *Buffer) error {
	return Tuple{&i.Name, &i.Quantity}.Decode(b)
}

// Items is the on-wire inventory listing.
type Items = Seq[Item, *Item]
