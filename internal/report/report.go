// 包 report 把一次运行的汇总渲染为终端表格。
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"fetch-process/internal/model"
)

var headers = []string{"任务", "目标", "状态", "候选", "已存在", "跳过", "失败", "无效", "过期", "新写入"}

// Render 将汇总写入 w；w 不是终端时不输出颜色。
func Render(w io.Writer, rep model.Report) error {
	re := lipgloss.NewRenderer(w)
	var (
		head  = re.NewStyle().Bold(true).Padding(0, 1)
		cell  = re.NewStyle().Padding(0, 1)
		num   = cell.Align(lipgloss.Right)
		sum   = num.Bold(true)
		title = re.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	)
	states := map[model.TargetState]lipgloss.Style{
		model.StateDone:         cell.Foreground(lipgloss.Color("10")),
		model.StateStoppedEarly: cell.Foreground(lipgloss.Color("11")),
		model.StateFailed:       cell.Foreground(lipgloss.Color("9")),
	}

	rows := make([][]string, 0, len(rep.Targets)+1)
	for _, s := range rep.Targets {
		rows = append(rows, row(s))
	}
	tot := row(rep.Totals())
	tot[0], tot[1], tot[2] = "合计", "", ""
	rows = append(rows, tot)
	last := len(rows) - 1

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(re.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(r, c int) lipgloss.Style {
			switch {
			case r == table.HeaderRow:
				return head
			case c >= 3 && r == last:
				return sum
			case c >= 3:
				return num
			case c == 2 && r < len(rep.Targets):
				if st, ok := states[rep.Targets[r].State]; ok {
					return st
				}
			}
			return cell
		})

	dur := rep.FinishedAt.Sub(rep.StartedAt).Round(100 * time.Millisecond)
	_, err := fmt.Fprintf(w, "%s\n%s\n", title.Render(fmt.Sprintf("运行 %s  耗时 %s", rep.RunID, dur)), t.Render())
	return err
}

func row(s model.TargetSummary) []string {
	return []string{
		s.Task,
		s.Target,
		string(s.State),
		strconv.Itoa(s.Candidates),
		strconv.Itoa(s.Existing),
		strconv.Itoa(s.Skipped),
		strconv.Itoa(s.Failed),
		strconv.Itoa(s.Invalid),
		strconv.Itoa(s.Stale),
		strconv.Itoa(s.Written),
	}
}
