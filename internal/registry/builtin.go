package registry

const unclaimed = "noonewouldeverusethis7"

// builtin is the platform set shipped with the tool. Order here is the order
// results are reported in.
var builtin = []Platform{
	{
		Name:              "GitHub",
		URLTemplate:       "https://github.com/{}",
		UsernamePattern:   `^[a-zA-Z0-9](?:[a-zA-Z0-9]|-(?=[a-zA-Z0-9])){0,38}$`,
		ClaimedUsername:   "torvalds",
		UnclaimedUsername: unclaimed,
	},
	{
		Name:              "Twitter/X",
		URLTemplate:       "https://twitter.com/{}",
		AvailableMarkers:  []string{"This account doesn't exist", "This account doesn’t exist"},
		UsernamePattern:   `^[a-zA-Z0-9_]{1,15}$`,
		ClaimedUsername:   "jack",
		UnclaimedUsername: unclaimed,
	},
	{
		Name:              "Instagram",
		URLTemplate:       "https://www.instagram.com/{}/",
		AvailableMarkers:  []string{"Sorry, this page isn't available", "Sorry, this page isn’t available"},
		ClaimedUsername:   "instagram",
		UnclaimedUsername: unclaimed,
	},
	{
		Name:              "LinkedIn",
		URLTemplate:       "https://www.linkedin.com/in/{}",
		ClaimedUsername:   "williamhgates",
		UnclaimedUsername: unclaimed,
	},
	{
		Name:              "YouTube",
		URLTemplate:       "https://www.youtube.com/@{}",
		ClaimedUsername:   "youtube",
		UnclaimedUsername: unclaimed,
	},
	{
		Name:              "TikTok",
		URLTemplate:       "https://www.tiktok.com/@{}",
		AvailableMarkers:  []string{"Couldn't find this account", "Couldn’t find this account"},
		ClaimedUsername:   "tiktok",
		UnclaimedUsername: unclaimed,
	},
	{
		Name:              "Reddit",
		URLTemplate:       "https://www.reddit.com/user/{}",
		UsernamePattern:   `^[a-zA-Z0-9_-]{3,20}$`,
		ClaimedUsername:   "spez",
		UnclaimedUsername: unclaimed,
	},
	{
		Name:              "Medium",
		URLTemplate:       "https://medium.com/@{}",
		ClaimedUsername:   "ev",
		UnclaimedUsername: unclaimed,
	},
	{
		Name:              "Telegram",
		URLTemplate:       "https://t.me/{}",
		AvailableMarkers:  []string{"If you have <strong>Telegram</strong>"},
		UsernamePattern:   `^[a-zA-Z][a-zA-Z0-9_]{3,31}[^_]$`,
		ClaimedUsername:   "durov",
		UnclaimedUsername: unclaimed,
	},
	{
		// Discord profiles are addressed by numeric id, so there is no stable claimed handle.
		Name:        "Discord",
		URLTemplate: "https://discord.com/users/{}",
	},
	{
		Name:              "Pinterest",
		URLTemplate:       "https://www.pinterest.com/{}",
		ClaimedUsername:   "pinterest",
		UnclaimedUsername: unclaimed,
	},
	{
		Name:              "Snapchat",
		URLTemplate:       "https://www.snapchat.com/add/{}",
		ClaimedUsername:   "teamsnapchat",
		UnclaimedUsername: unclaimed,
	},
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := New(builtin...)
	if err != nil {
		panic("registry: invalid built-in platform: " + err.Error())
	}
	return r
}
