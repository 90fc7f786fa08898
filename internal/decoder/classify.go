package decoder

import (
	"fmt"
	"strconv"
	"strings"
)

var typeAliases = map[string]Kind{
	"text":     KindText,
	"plain":    KindText,
	"message":  KindText,
	"sticker":  KindSticker,
	"image":    KindImage,
	"photo":    KindImage,
	"gift":     KindGift,
	"transfer": KindGift,
	"notice":   KindNotice,
	"system":   KindNotice,
}

func classifyAll(messages []map[string]any) []Item {
	items := make([]Item, 0, len(messages))
	for _, msg := range messages {
		items = append(items, classify(msg))
	}
	return items
}

// classify converts one decoded message into an Item. An explicit "type"
// field decides the kind; otherwise the first match wins in the order
// notice, gift, sticker, image, text.
func classify(msg map[string]any) Item {
	kind, ok := explicitKind(msg)
	if !ok {
		kind = inferKind(msg)
	}
	sender := stringField(msg, "sender", "from", "name")

	switch kind {
	case KindNotice:
		return NewNotice(stringField(msg, "notice", "content", "text"))
	case KindGift:
		return NewGift(sender, giftField(msg))
	case KindSticker:
		return NewSticker(sender, stringField(msg, "sticker", "content"))
	case KindImage:
		return NewImage(sender, imageField(msg))
	default:
		return NewText(sender, stringField(msg, "content", "text"))
	}
}

func explicitKind(msg map[string]any) (Kind, bool) {
	raw, ok := msg["type"].(string)
	if !ok {
		return "", false
	}
	kind, ok := typeAliases[strings.ToLower(strings.TrimSpace(raw))]
	return kind, ok
}

func inferKind(msg map[string]any) Kind {
	if system, _ := msg["system"].(bool); system || present(msg, "notice") {
		return KindNotice
	}
	if _, ok := msg["gift"].(map[string]any); ok || present(msg, "transfer") {
		return KindGift
	}
	if present(msg, "sticker") {
		return KindSticker
	}
	if present(msg, "image") {
		return KindImage
	}
	return KindText
}

func present(msg map[string]any, key string) bool {
	v, ok := msg[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func stringField(msg map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := scalarString(msg[key]); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	case nil:
		return ""
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(typed)
	}
}

func imageField(msg map[string]any) ImageDescriptor {
	switch img := msg["image"].(type) {
	case map[string]any:
		return ImageDescriptor{
			Description: stringField(img, "description", "desc", "alt", "content"),
			Prompt:      stringField(img, "prompt"),
		}
	case string:
		return ImageDescriptor{Description: strings.TrimSpace(img)}
	}
	return ImageDescriptor{Description: stringField(msg, "description", "content")}
}

func giftField(msg map[string]any) GiftDescriptor {
	var source map[string]any
	for _, key := range []string{"gift", "transfer"} {
		if m, ok := msg[key].(map[string]any); ok {
			source = m
			break
		}
	}
	if source == nil {
		gift := GiftDescriptor{Note: stringField(msg, "note", "content")}
		for _, key := range []string{"transfer", "gift", "amount"} {
			if amount, ok := numberValue(msg[key]); ok {
				gift.Amount = amount
				break
			}
		}
		gift.Currency = stringField(msg, "currency")
		return gift
	}
	gift := GiftDescriptor{
		Currency: stringField(source, "currency"),
		Note:     stringField(source, "note", "message", "content"),
	}
	if amount, ok := numberValue(source["amount"]); ok {
		gift.Amount = amount
	}
	return gift
}

func numberValue(v any) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return f, err == nil
	}
	return 0, false
}
