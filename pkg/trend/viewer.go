package trend

// UnknownViewer is the bucket for views with neither a user id nor an address.
const UnknownViewer = "unknown"

// ViewerKey picks the identity a view is attributed to when counting unique
// viewers: the user id, then the network address, then UnknownViewer. This
// approximates distinct visitors; it is not session accurate.
func ViewerKey(userID, ipAddress string) string {
	for _, candidate := range []string{userID, ipAddress} {
		if candidate != "" {
			return candidate
		}
	}
	return UnknownViewer
}
