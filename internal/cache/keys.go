package cache

import "strings"

// Key family shared with the existing Redis deployment. Do not change the
// layout without migrating the stored keys.
const (
	TradesRoot = "trades:"
)

func TradeKey(tradeID string) string { return "trades:trade:" + tradeID }

func SentTradesPrefix(userID string) string { return "trades:sent_trades:" + userID + "+" }

func SentTradeKey(userID, tradeID string) string { return SentTradesPrefix(userID) + tradeID }

func ReceivedTradesPrefix(userID string) string { return "trades:received_trades:" + userID + "+" }

func ReceivedTradeKey(userID, tradeID string) string { return ReceivedTradesPrefix(userID) + tradeID }

// TradeScope is every key belonging to one trade's line items.
func TradeScope(tradeID string) string { return "trades:" + tradeID + ":" }

func TradeItemsPrefix(tradeID string) string { return TradeScope(tradeID) + "trade_item:" }

func TradeItemKey(tradeID, itemID string) string { return TradeItemsPrefix(tradeID) + itemID }

func InventoryItemsPrefix(userID string) string { return "inventory:" + userID + ":inventory_items:" }

func InventoryItemKey(userID, itemID string) string { return InventoryItemsPrefix(userID) + itemID }

func LockedAmountKey(userID, itemID string) string {
	return "inventory:" + userID + ":locked_amount:" + itemID
}

func ItemKey(itemID string) string { return "items:" + itemID }

func UsedItemsKey(itemID string) string { return "used_items:" + itemID }

// Marker is the completeness flag of a list prefix: the prefix without its
// trailing separator, so it never shows up in its own prefix scan.
func Marker(prefix string) string {
	if prefix == "" {
		return ""
	}
	return prefix[:len(prefix)-1]
}

// family is the first key segment, used as a low-cardinality metric label.
func family(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
