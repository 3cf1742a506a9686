package extractor

import "regexp"

// courierPattern captures the tracking number in group 1. Literal is the
// courier name whose presence in the text raises confidence.
type courierPattern struct {
	Courier string
	Literal string
	re      *regexp.Regexp
}

// Order matters: the first matching pattern wins, the generic one goes last.
var courierPatterns = []courierPattern{
	{Courier: "CJ대한통운", Literal: "CJ대한통운", re: regexp.MustCompile(`(?:CJ대한통운|CJ|대한통운)[^0-9]*(\d{10,12})\b`)},
	{Courier: "우체국택배", Literal: "우체국", re: regexp.MustCompile(`(?:우체국택배|우체국|ePost)[^0-9]*(\d{13})\b`)},
	{Courier: "한진택배", Literal: "한진", re: regexp.MustCompile(`(?:한진택배|한진)[^0-9]*(\d{10,12})\b`)},
	{Courier: "롯데택배", Literal: "롯데", re: regexp.MustCompile(`(?:롯데택배|롯데글로벌로지스|롯데)[^0-9]*(\d{12,13})\b`)},
	{Courier: "로젠택배", Literal: "로젠", re: regexp.MustCompile(`(?:로젠택배|로젠)[^0-9]*(\d{11})\b`)},
	{Courier: "쿠팡", Literal: "쿠팡", re: regexp.MustCompile(`(?:쿠팡|로켓배송)[^0-9]*(\d{10,14})\b`)},
	{Courier: GenericCourier, re: regexp.MustCompile(`(?:운송장|송장)\s*(?:번호)?\s*[:：]?\s*(\d{10,14})\b`)},
}

// GenericCourier is reported when only the generic waybill pattern matched.
const GenericCourier = "기타"

var defaultKeywords = []string{
	"택배", "배송", "배달", "운송장", "송장",
	"parcel", "delivery", "tracking", "waybill",
}

// DefaultAllowedApps lists courier and shopping apps whose notifications
// are inspected.
var DefaultAllowedApps = []string{
	"com.cj.cjlogistics",
	"net.cjlogistics.mobile",
	"com.epost.psf.sdsi",
	"kr.co.hanjin.mobile",
	"com.lotte.lotteglogis",
	"com.ilogen.mobile",
	"com.coupang.mobile",
	"com.ebay.kr.gmarket",
	"com.ebay.kr.auction",
	"com.nhn.android.search",
	"com.kakao.talk",
	"com.elevenst",
	"kr.co.ssg",
	"com.wemakeprice",
	"com.tmon",
}
