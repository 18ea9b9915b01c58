package plan

type Tier string
type Feature string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

const (
	FeatureGrammarCheck     Feature = "grammar-check"
	FeatureTranslate        Feature = "translate"
	FeatureTranslateSnippet Feature = "translate-snippet"
	FeatureExport           Feature = "export"
)

func Can(tier Tier, feature Feature) bool {
	switch tier {
	case TierPro:
		return true
	case TierFree:
		return feature == FeatureGrammarCheck || feature == FeatureTranslate
	default:
		return false
	}
}

func Normalize(tier string) Tier {
	switch Tier(tier) {
	case TierFree, TierPro:
		return Tier(tier)
	default:
		return TierFree
	}
}

func IsPro(tier string) bool {
	return Normalize(tier) == TierPro
}
