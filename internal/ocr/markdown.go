package ocr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

// blocksToMarkdown rebuilds document text from Textract blocks. Free-standing
// lines become paragraphs; tables are reassembled from cell row/column
// indices so a missing cell leaves an empty markdown cell instead of
// shifting the rest of the row.
func blocksToMarkdown(blocks []types.Block) string {
	byID := make(map[string]types.Block, len(blocks))
	var pages []types.Block
	for _, block := range blocks {
		byID[aws.ToString(block.Id)] = block
		if block.BlockType == types.BlockTypePage {
			pages = append(pages, block)
		}
	}

	// Words consumed by table cells; lines made only of those words are
	// already represented inside a table.
	tableWords := map[string]bool{}
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeCell {
			continue
		}
		for _, id := range childIDs(block) {
			tableWords[id] = true
		}
	}

	var sb strings.Builder
	for pageNum, page := range pages {
		if pageNum > 0 {
			sb.WriteString(fmt.Sprintf("\n---\n\n## Page %d\n\n", pageNum+1))
		}
		for _, childID := range childIDs(page) {
			child, ok := byID[childID]
			if !ok {
				continue
			}
			switch child.BlockType {
			case types.BlockTypeLine:
				if lineInTable(child, tableWords) {
					continue
				}
				sb.WriteString(aws.ToString(child.Text))
				sb.WriteString("\n\n")
			case types.BlockTypeTable:
				sb.WriteString(renderTable(child, byID))
				sb.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func renderTable(table types.Block, byID map[string]types.Block) string {
	type cellRef struct {
		col  int32
		text string
	}
	rows := map[int32][]cellRef{}
	var maxCol int32
	for _, id := range childIDs(table) {
		cell, ok := byID[id]
		if !ok || cell.BlockType != types.BlockTypeCell {
			continue
		}
		row := aws.ToInt32(cell.RowIndex)
		col := aws.ToInt32(cell.ColumnIndex)
		if col > maxCol {
			maxCol = col
		}
		rows[row] = append(rows[row], cellRef{col: col, text: cellText(cell, byID)})
	}

	rowIndices := make([]int32, 0, len(rows))
	for idx := range rows {
		rowIndices = append(rowIndices, idx)
	}
	sort.Slice(rowIndices, func(i, j int) bool { return rowIndices[i] < rowIndices[j] })

	var sb strings.Builder
	for n, rowIdx := range rowIndices {
		cells := rows[rowIdx]
		sort.Slice(cells, func(i, j int) bool { return cells[i].col < cells[j].col })
		// Lay the row out on the full grid; absent cells stay empty so the
		// columns keep lining up.
		grid := make([]string, maxCol)
		for _, cell := range cells {
			if cell.col >= 1 && cell.col <= maxCol {
				grid[cell.col-1] = cell.text
			}
		}
		sb.WriteString("|")
		for _, cell := range grid {
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
		if n == 0 {
			sb.WriteString("|")
			for range grid {
				sb.WriteString(" --- |")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func cellText(cell types.Block, byID map[string]types.Block) string {
	var parts []string
	for _, id := range childIDs(cell) {
		word, ok := byID[id]
		if !ok {
			continue
		}
		switch word.BlockType {
		case types.BlockTypeWord:
			parts = append(parts, aws.ToString(word.Text))
		case types.BlockTypeSelectionElement:
			parts = append(parts, string(word.SelectionStatus))
		}
	}
	text := strings.Join(parts, " ")
	return strings.ReplaceAll(text, "|", "\\|")
}

func lineInTable(line types.Block, tableWords map[string]bool) bool {
	ids := childIDs(line)
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if !tableWords[id] {
			return false
		}
	}
	return true
}

func childIDs(block types.Block) []string {
	var ids []string
	for _, rel := range block.Relationships {
		if rel.Type != types.RelationshipTypeChild {
			continue
		}
		ids = append(ids, rel.Ids...)
	}
	return ids
}
