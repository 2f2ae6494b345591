package shell

type redirect struct {
	target    string
	appending bool
}

// parseRedirect splits echo arguments into the words to print and an optional output redirect.
// The first ">" or ">>" ends the words; anything after its target is ignored.
func parseRedirect(args []string) ([]string, *redirect, error) {
	var words []string
	for i, arg := range args {
		if arg != ">" && arg != ">>" {
			words = append(words, arg)
			continue
		}

		if i+1 >= len(args) {
			return nil, nil, errUsage
		}
		return words, &redirect{target: args[i+1], appending: arg == ">>"}, nil
	}
	return words, nil, nil
}
