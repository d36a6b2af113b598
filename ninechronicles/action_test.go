package ninechronicles_test

import (
	"bytes"
	"strconv"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	. "github.com/planetarium/ncg-bridge/ninechronicles"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var _ = Describe("Transfer action", func() {
	sender := common.HexToAddress("0x2734048eC2892d111b4fbAB224400847544FC872")
	recipient := common.HexToAddress("0x9093dd96c4bb6b44A9E0A522e2DE49641F146223")
	minter := common.HexToAddress("0x47D082a115c63E7b58B1532d20E631538eaFADde")

	// Builds the canonical bencodex form by hand. Text strings are u<len>:,
	// byte strings are <len>:, integers are i<n>e, and dictionary keys are
	// sorted.
	expected := func(integerAmount, memo string) []byte {
		buf := new(bytes.Buffer)
		buf.WriteString("d")
		buf.WriteString("u7:type_id")
		buf.WriteString("u15:transfer_asset3")
		buf.WriteString("u6:values")
		buf.WriteString("d")
		buf.WriteString("u6:amount")
		buf.WriteString("l")
		buf.WriteString("d")
		buf.WriteString("u13:decimalPlaces")
		buf.WriteString("1:\x02")
		buf.WriteString("u7:minters")
		buf.WriteString("l")
		buf.WriteString("20:")
		buf.Write(minter.Bytes())
		buf.WriteString("e")
		buf.WriteString("u6:ticker")
		buf.WriteString("u3:NCG")
		buf.WriteString("e")
		buf.WriteString("i" + integerAmount + "e")
		buf.WriteString("e")
		if memo != "" {
			buf.WriteString("u4:memo")
			buf.WriteString("u")
			buf.WriteString(strconv.Itoa(len(memo)))
			buf.WriteString(":")
			buf.WriteString(memo)
		}
		buf.WriteString("u9:recipient")
		buf.WriteString("20:")
		buf.Write(recipient.Bytes())
		buf.WriteString("u6:sender")
		buf.WriteString("20:")
		buf.Write(sender.Bytes())
		buf.WriteString("e")
		buf.WriteString("e")
		return buf.Bytes()
	}

	Context("when encoding a transfer without a memo", func() {
		It("should produce the canonical bencodex bytes", func() {
			encoded, err := EncodeTransferAsset(sender, recipient, minter, decimal.RequireFromString("10.50"), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(encoded).To(Equal(expected("1050", "")))
		})
	})

	Context("when encoding a transfer with a memo", func() {
		It("should order the memo key between amount and recipient", func() {
			encoded, err := EncodeTransferAsset(sender, recipient, minter, decimal.RequireFromString("0.01"), "refund")
			Expect(err).NotTo(HaveOccurred())
			Expect(encoded).To(Equal(expected("1", "refund")))
		})
	})

	Context("when the amount has more than two decimal places", func() {
		It("should floor to the asset precision", func() {
			encoded, err := EncodeTransferAsset(sender, recipient, minter, decimal.RequireFromString("10.509"), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(encoded).To(Equal(expected("1050", "")))
		})
	})
})
