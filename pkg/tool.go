package pkg

// Contains check source have target
func Contains[T comparable](slice []T, val T) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// AppendUnique append val unless slice already has it
func AppendUnique[T comparable](slice []T, val T) []T {
	if Contains(slice, val) {
		return slice
	}
	return append(slice, val)
}
