package credentials

import (
	"crypto/rand"
	"math/big"
)

// Places and roles from the garden, combined into reader display names
var places = []string{
	"瀟湘", "蘅蕪", "怡紅", "稻香", "秋爽", "櫳翠", "紫菱", "暖香",
	"藕香", "凹晶", "凸碧", "沁芳", "大觀", "榮禧", "寧國", "太虛",
}

var roles = []string{
	"詩客", "書生", "雅士", "畫師", "琴友", "茶人", "棋手", "行者",
	"遊子", "墨客", "花使", "月老", "隱士", "評家", "過客", "知音",
}

const suffixChars = "0123456789"

// GenerateDisplayName returns a name like "瀟湘詩客-0427" for readers created without one
func GenerateDisplayName() (string, error) {
	place, err := randomElement(places)
	if err != nil {
		return "", err
	}

	role, err := randomElement(roles)
	if err != nil {
		return "", err
	}

	suffix, err := randomSuffix(4)
	if err != nil {
		return "", err
	}

	return place + role + "-" + suffix, nil
}

// randomSuffix generates n random digits
func randomSuffix(n int) (string, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(suffixChars))))
		if err != nil {
			return "", err
		}
		out[i] = suffixChars[num.Int64()]
	}
	return string(out), nil
}

// randomElement picks a random element from a string slice
func randomElement(slice []string) (string, error) {
	if len(slice) == 0 {
		return "", nil
	}

	num, err := rand.Int(rand.Reader, big.NewInt(int64(len(slice))))
	if err != nil {
		return "", err
	}

	return slice[num.Int64()], nil
}
