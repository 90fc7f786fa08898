package decoder

// Kind discriminates the variants of Item.
type Kind string

const (
	KindText    Kind = "text"
	KindSticker Kind = "sticker"
	KindImage   Kind = "image"
	KindGift    Kind = "gift"
	KindNotice  Kind = "notice"
)

// ImageDescriptor describes a placeholder image the client renders in place of a real photo.
type ImageDescriptor struct {
	Description string `json:"description"`
	Prompt      string `json:"prompt,omitempty"`
}

// GiftDescriptor describes a monetary gift or transfer.
type GiftDescriptor struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
	Note     string  `json:"note,omitempty"`
}

// Item is one owner-facing output element. Exactly the fields matching Kind are set.
type Item struct {
	Kind    Kind             `json:"kind"`
	Sender  string           `json:"sender,omitempty"`
	Text    string           `json:"text,omitempty"`
	Sticker string           `json:"sticker,omitempty"`
	Image   *ImageDescriptor `json:"image,omitempty"`
	Gift    *GiftDescriptor  `json:"gift,omitempty"`
}

func NewText(sender, text string) Item {
	return Item{Kind: KindText, Sender: sender, Text: text}
}

func NewSticker(sender, sticker string) Item {
	return Item{Kind: KindSticker, Sender: sender, Sticker: sticker}
}

func NewImage(sender string, image ImageDescriptor) Item {
	return Item{Kind: KindImage, Sender: sender, Image: &image}
}

func NewGift(sender string, gift GiftDescriptor) Item {
	return Item{Kind: KindGift, Sender: sender, Gift: &gift}
}

// NewNotice builds a system notice. Notices have no sender.
func NewNotice(text string) Item {
	return Item{Kind: KindNotice, Text: text}
}

// Outcome is the structured result recovered from upstream text.
type Outcome struct {
	Items    []Item `json:"items"`
	Strategy string `json:"strategy"`
}
