package service

import (
	"strings"
	"time"
)

// Device names used in the "Sent from ..." tag.
const (
	DeviceIPhone  = "iPhone"
	DeviceIPad    = "iPad"
	DeviceAndroid = "Android"
	DeviceMac     = "Mac"
	DeviceWindows = "Windows"
	DeviceWeb     = "Web"
)

// DisplayTimeLayout renders the sender's local clock, e.g. "09:05 PM".
const DisplayTimeLayout = "03:04 PM"

// ClassifyDevice maps a User-Agent to a device name. Checks run in order, so
// an iPhone UA (which also mentions "Mac OS X") is classified as iPhone.
func ClassifyDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"):
		return DeviceIPhone
	case strings.Contains(ua, "ipad"):
		return DeviceIPad
	case strings.Contains(ua, "android"):
		return DeviceAndroid
	case strings.Contains(ua, "mac"):
		return DeviceMac
	case strings.Contains(ua, "windows"):
		return DeviceWindows
	default:
		return DeviceWeb
	}
}

// DeviceTag builds the message tag. The spoof account always gets the
// iPhone tag, whatever it actually sent from.
func DeviceTag(userAgent, accountID, spoofAccountID string) string {
	device := ClassifyDevice(userAgent)
	if spoofAccountID != "" && accountID == spoofAccountID {
		device = DeviceIPhone
	}
	return "Sent from " + device
}

// DisplayTime formats t on the wall clock of loc (UTC when nil).
func DisplayTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayTimeLayout)
}
