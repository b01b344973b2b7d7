package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(y int, m time.Month, d int) func() time.Time {
	return func() time.Time { return time.Date(y, m, d, 12, 0, 0, 0, time.UTC) }
}

func TestExtractFixture(t *testing.T) {
	e := New(WithClock(fixedClock(2025, time.June, 1)))
	res := e.Extract("SIEU THI ABC\nTotal: 352,000\n01/10/2024")

	require.NotNil(t, res.MerchantName)
	assert.Equal(t, "SIEU THI ABC", *res.MerchantName)
	require.NotNil(t, res.TotalAmount)
	assert.InDelta(t, 352000.00, *res.TotalAmount, 0.001)
	require.NotNil(t, res.ReceiptDate)
	assert.Equal(t, "2024-10-01", res.ReceiptDate.Format("2006-01-02"))
	assert.Empty(t, res.Items)
}

func TestExtractIsDeterministic(t *testing.T) {
	e := New(WithClock(fixedClock(2025, time.June, 1)))
	text := "SIEU THI ABC\nTel: 0901 234 567\n2 x 15,000\nTotal: 352,000\n01/10/2024"
	first := e.Extract(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.Extract(text))
	}
}

func TestTotalPrefersKeywordOverSubtotal(t *testing.T) {
	e := New(WithClock(fixedClock(2025, time.June, 1)))
	res := e.Extract("CUA HANG XYZ\nSubtotal: 300,000\nVAT 10%: 30,000\nTotal: 352,000\nCash: 500,000\nChange: 148,000")

	require.NotNil(t, res.TotalAmount)
	assert.InDelta(t, 352000.00, *res.TotalAmount, 0.001)
	assert.InDelta(t, 0.95, res.FieldConfidence[FieldTotal], 1e-9)
}

func TestTotalLargestKeywordWins(t *testing.T) {
	e := New()
	res := e.Extract("QUAN AN NGON\nTổng tiền hàng: 120.000\nTổng cộng: 132.000đ")
	require.NotNil(t, res.TotalAmount)
	assert.InDelta(t, 132000, *res.TotalAmount, 0.001)
}

func TestTotalOnFollowingLine(t *testing.T) {
	e := New()
	res := e.Extract("NHA THUOC AN KHANG\nTHANH TOAN\n85.500\nCam on quy khach")
	require.NotNil(t, res.TotalAmount)
	assert.InDelta(t, 85500, *res.TotalAmount, 0.001)
}

func TestTotalFallsBackToLargestNumber(t *testing.T) {
	e := New(WithClock(fixedClock(2025, time.June, 1)))
	res := e.Extract("COFFEE HOUSE\nLatte 45,000\nCroissant 30,000\n75,000\nTel 0901234567\n15/03/2024 10:32")

	require.NotNil(t, res.TotalAmount)
	assert.InDelta(t, 75000, *res.TotalAmount, 0.001)
	assert.InDelta(t, 0.5, res.FieldConfidence[FieldTotal], 1e-9)
}

func TestMerchantSkipsBoilerplate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"receipt header", "RECEIPT\n*** BIG C THANG LONG ***\nTotal 10.000", "BIG C THANG LONG"},
		{"vietnamese header", "HÓA ĐƠN BÁN LẺ\nCircle K\nTổng: 25.000", "Circle K"},
		{"numeric lines first", "0001234\n----\nPhở Thìn\nTổng: 60.000", "Phở Thìn"},
		{"date line first", "01/02/2024\nLotte Mart\nTotal 99.000", "Lotte Mart"},
	}
	e := New(WithClock(fixedClock(2025, time.June, 1)))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Extract(tt.text)
			require.NotNil(t, res.MerchantName)
			assert.Equal(t, tt.want, *res.MerchantName)
		})
	}
}

func TestMissingFieldsStayEmpty(t *testing.T) {
	e := New()
	res := e.Extract("   \n----\n1234\n")
	assert.Nil(t, res.MerchantName)
	assert.Nil(t, res.ReceiptDate)
	assert.Empty(t, res.Phone)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.FieldConfidence[FieldMerchant])

	empty := e.Extract("")
	assert.Nil(t, empty.TotalAmount)
}

func TestPhoneShapes(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"Tel: 0901234567", "0901234567"},
		{"ĐT: 090 123 4567", "0901234567"},
		{"Hotline: 028 3823 4567", "02838234567"},
		{"SĐT +84 90 123 4567", "+84901234567"},
		{"Phone: 090.123.4567", "0901234567"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			res := New().Extract("SHOP\n" + tt.line)
			assert.Equal(t, tt.want, res.Phone)
		})
	}
}

func TestPhoneIgnoresAmountsAndDates(t *testing.T) {
	res := New(WithClock(fixedClock(2025, time.June, 1))).Extract("SHOP\nTotal: 1.050.000\n01/10/2024")
	assert.Empty(t, res.Phone)
}

func TestItemsKeepOrderAndSkipConsumedLines(t *testing.T) {
	e := New(WithClock(fixedClock(2025, time.June, 1)))
	text := "MINI MART 24H\n" +
		"Ngày: 12/05/2024\n" +
		"Mì Hảo Hảo 2 x 4.500\n" +
		"Sữa tươi Vinamilk 32.000đ\n" +
		"Bánh mì 15,000\n" +
		"Tạm tính: 56.000\n" +
		"Tổng cộng: 56.000\n"
	res := e.Extract(text)

	assert.Equal(t, []string{
		"Mì Hảo Hảo 2 x 4.500",
		"Sữa tươi Vinamilk 32.000đ",
		"Bánh mì 15,000",
	}, res.Items)
	require.NotNil(t, res.TotalAmount)
	assert.InDelta(t, 56000, *res.TotalAmount, 0.001)
	assert.Greater(t, res.FieldConfidence[FieldItems], 0.0)
}

func TestRecognitionConfidenceScalesFields(t *testing.T) {
	e := New(WithClock(fixedClock(2025, time.June, 1)))
	lines := []Line{
		{Text: "SIEU THI ABC", Confidence: 0.5},
		{Text: "Total: 352,000", Confidence: 0.8},
	}
	res := e.ExtractLines(lines)
	assert.InDelta(t, 0.45, res.FieldConfidence[FieldMerchant], 1e-9)
	assert.InDelta(t, 0.76, res.FieldConfidence[FieldTotal], 1e-9)
}

func TestOverallConfidence(t *testing.T) {
	withTotal := Result{
		TotalAmount:     ptr(10.0),
		FieldConfidence: map[string]float64{FieldMerchant: 0.9, FieldTotal: 0.9, FieldDate: 0.9},
	}
	assert.InDelta(t, 0.7*0.8+0.3*0.9, OverallConfidence(0.8, withTotal), 1e-9)

	noTotal := Result{FieldConfidence: map[string]float64{FieldMerchant: 0.9, FieldDate: 0.9}}
	want := (0.7*0.8 + 0.3*0.6) * 0.8
	assert.InDelta(t, want, OverallConfidence(0.8, noTotal), 1e-9)
	assert.Less(t, OverallConfidence(0.8, noTotal), OverallConfidence(0.8, withTotal))
}

func ptr[T any](v T) *T { return &v }
