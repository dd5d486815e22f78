package platform

import "fetch-process/internal/page"

// jsPick 为页面内的表达式求值，与 getVal 语法一致。
const jsPick = `
  const pick = (scope, expr) => {
    if (!expr) return '';
    for (const raw of expr.split('||')) {
      const p = raw.trim();
      if (!p) continue;
      let v = '';
      if (p === '.') {
        v = scope.textContent || '';
      } else if (p.indexOf('@') >= 0) {
        const at = p.indexOf('@');
        const sel = p.slice(0, at).trim();
        const attr = p.slice(at + 1).trim();
        const el = sel ? scope.querySelector(sel) : scope;
        v = el ? (el.getAttribute(attr) || '') : '';
      } else {
        const el = scope.querySelector(p);
        v = el ? (el.textContent || '') : '';
      }
      v = v.trim();
      if (v) return v;
    }
    return '';
  };`

var (
	scanScript = page.Script{Name: "scan", Source: `(cfg) => {` + jsPick + `
  const root = cfg.wrapper ? document.querySelector(cfg.wrapper) : document;
  if (!root) return [];
  const rows = Array.from(root.querySelectorAll(cfg.item)).map((el) => {
    const r = el.getBoundingClientRect();
    return { el, top: (r.top || 0) + (window.scrollY || 0), left: (r.left || 0) + (window.scrollX || 0) };
  });
  if (cfg.positional) rows.sort((a, b) => (a.top - b.top) || (a.left - b.left));
  return rows.map((row, order) => {
    const el = row.el;
    let index = '';
    for (const a of (cfg.indexAttrs || [])) {
      const v = el.getAttribute(a);
      if (v !== null && v !== '') { index = v; break; }
    }
    return {
      index, order, top: row.top,
      headerId: pick(el, cfg.headerId),
      href: pick(el, cfg.link),
      time: pick(el, cfg.time),
      author: pick(el, cfg.author),
      mid: pick(el, cfg.mid),
      video: !!(cfg.video && el.querySelector(cfg.video)),
    };
  });
}`}

	revealScript = page.Script{Name: "reveal", Source: `(a) => {
  const root = a.wrapper ? document.querySelector(a.wrapper) : document;
  if (!root) return false;
  for (const attr of (a.attrs || [])) {
    const el = root.querySelector(a.item + '[' + attr + '="' + a.index + '"]');
    if (el && typeof el.scrollIntoView === 'function') {
      el.scrollIntoView({ block: 'center' });
      return true;
    }
  }
  return false;
}`}

	// nudgeScript 下滚 max(0.4vh, 220) + min(0.35vh, 280)*step，返回原位置。
	nudgeScript = page.Script{Name: "nudge", Source: `(step) => {
  const cur = window.scrollY || 0;
  const vh = window.innerHeight || 800;
  window.scrollTo(0, cur + Math.max(vh * 0.4, 220) + Math.min(vh * 0.35, 280) * step);
  return cur;
}`}

	scrollToScript = page.Script{Name: "scrollTo", Source: `(y) => { window.scrollTo(0, y); return true; }`}

	scrollPageScript = page.Script{Name: "scrollPage", Source: `() => {
  window.scrollBy(0, document.body ? document.body.scrollHeight : (window.innerHeight || 800));
  return true;
}`}

	readyScript = page.Script{Name: "ready", Source: `(sel) => !!document.querySelector(sel)`}

	loginWallScript = page.Script{Name: "loginWall", Source: `(l) => {
  const text = ((document.body && document.body.innerText) || '').slice(0, 2000);
  for (const t of (l.texts || [])) {
    if (t && text.includes(t)) return true;
  }
  return !!(l.selector && document.querySelector(l.selector));
}`}
)
