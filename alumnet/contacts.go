package alumnet

import "github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"

// ListPeers returns every user in roster except self, in roster order.
func ListPeers(roster []rest.User, self int64) []rest.User {
	peers := make([]rest.User, 0, len(roster))
	for _, u := range roster {
		if u.ID == self {
			continue
		}
		peers = append(peers, u)
	}
	return peers
}
